package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/noah-isme/sma-admission-api/internal/models"
	"github.com/noah-isme/sma-admission-api/internal/repository"
	"github.com/noah-isme/sma-admission-api/internal/service"
	"github.com/noah-isme/sma-admission-api/pkg/config"
	"github.com/noah-isme/sma-admission-api/pkg/database"
	"github.com/noah-isme/sma-admission-api/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	accounts := service.NewAccountService(repository.NewAccountRepository(db), nil, logr, nil, cfg.JWT.BcryptCost)

	reader := bufio.NewReader(os.Stdin)
	fmt.Println("=== Create administrator account ===")

	fmt.Print("Email: ")
	email, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		logr.Fatal("failed to read email", zap.Error(err))
	}
	email = strings.TrimSpace(email)
	if email == "" {
		logr.Fatal("email is required")
	}

	fmt.Print("Password: ")
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		logr.Fatal("failed to read password", zap.Error(err))
	}

	fmt.Print("Superadmin? [y/N]: ")
	answer, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		logr.Fatal("failed to read superadmin answer", zap.Error(err))
	}
	role := models.RoleAdmin
	if strings.EqualFold(strings.TrimSpace(answer), "y") {
		role = models.RoleSuperAdmin
	}

	info, err := accounts.Provision(context.Background(), service.ProvisionAccountRequest{
		Email:    email,
		Password: string(raw),
		Role:     role,
	}, nil)
	if err != nil {
		logr.Fatal("failed to create account", zap.Error(err))
	}

	fmt.Printf("created %s account %s (%s)\n", info.Role, info.Email, info.ID)
}
