package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"secure_chat/internal/auth"
	"secure_chat/internal/config"
	"secure_chat/internal/model"
	"secure_chat/internal/service/app"
	"secure_chat/internal/utils/log"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: client <email> [peer]")
		os.Exit(1)
	}
	email := os.Args[1]

	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}

	// demo login: the client signs its own token; a real deployment gets
	// one from the auth service instead
	token, err := auth.Sign(cfg.JWTSecret, email, email, 24*time.Hour)
	if err != nil {
		log.Fatal("sign token", zap.Error(err))
	}

	peer := ""
	if len(os.Args) > 2 {
		peer = os.Args[2]
	} else {
		fmt.Print("Enter recipient's identity: ")
		if _, err := fmt.Scan(&peer); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		log.Fatal("resolve home dir", zap.Error(err))
	}
	keyDir := filepath.Join(home, ".secure_chat", email)

	me := model.Presence{UserID: email, Email: email}
	c, err := app.NewApp(cfg.ServerAddr, token, me, keyDir)
	if err != nil {
		log.Fatal("init app", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Run(ctx, peer); err != nil {
		log.Fatal("run app", zap.Error(err))
	}
	c.Stop()
}
