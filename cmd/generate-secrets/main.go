package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/smarttransit/seat-booking-backend/internal/services"
	"github.com/smarttransit/seat-booking-backend/internal/utils"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	password := flag.String("admin-password", "", "operator password to hash for ADMIN_PASSWORD_HASH")
	cost := flag.Int("cost", bcrypt.DefaultCost+2, "bcrypt cost")
	flag.Parse()

	fmt.Println("===========================================")
	fmt.Println("Secret Generator for SmartTransit Seat Booking")
	fmt.Println("===========================================")
	fmt.Println()

	jwtSecret, err := utils.GenerateSecret(32)
	if err != nil {
		log.Fatalf("Failed to generate secrets: %v", err)
	}

	fmt.Println("Add these to your .env file or deployment secrets:")
	fmt.Println()
	fmt.Printf("JWT_SECRET=%s\n", jwtSecret)

	if *password != "" {
		hash, err := services.HashPassword(*password, *cost)
		if err != nil {
			log.Fatalf("Failed to hash admin password: %v", err)
		}
		fmt.Printf("ADMIN_PASSWORD_HASH='%s'\n", hash)
	} else {
		fmt.Println("# pass -admin-password to also print ADMIN_PASSWORD_HASH")
	}

	fmt.Println()
	fmt.Println("⚠️  IMPORTANT: Keep these secrets safe and never commit them to version control!")
	fmt.Println("===========================================")
}
