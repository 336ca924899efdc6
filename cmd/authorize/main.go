// Command authorize проводит интерактивную авторизацию аккаунта из консоли.
// Проходит тот же путь, что и HTTP-слой: код, при необходимости 2FA,
// и сохраняет токен сессии в хранилище.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/larriantoniy/tg_promo_bot/internal/app"
	"github.com/larriantoniy/tg_promo_bot/internal/config"
	"github.com/larriantoniy/tg_promo_bot/internal/domain"
	"github.com/larriantoniy/tg_promo_bot/internal/useCases"
)

func main() {
	var cred domain.AccountCredential
	var name string
	flag.StringVar(&cred.AccountID, "account", "", "account id")
	flag.StringVar(&cred.Phone, "phone", "", "phone number in international format")
	flag.StringVar(&cred.APIKey, "api-id", os.Getenv("TELEGRAM_API_ID"), "telegram api_id")
	flag.StringVar(&cred.APISecret, "api-hash", os.Getenv("TELEGRAM_API_HASH"), "telegram api_hash")
	flag.StringVar(&name, "name", "", "display name")

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := app.SetupLogger(cfg.Env)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init:", err)
		os.Exit(1)
	}
	defer a.Close()
	defer a.Onboarding.Close()

	if err := authorize(ctx, a.Service, cred, name, bufio.NewReader(os.Stdin)); err != nil {
		fmt.Fprintln(os.Stderr, "authorization failed:", err)
		os.Exit(1)
	}
	fmt.Println("account authorized:", cred.AccountID)
}

func authorize(ctx context.Context, svc *useCases.BotService, cred domain.AccountCredential, name string, in *bufio.Reader) error {
	res, err := svc.Onboard(ctx, cred, name)
	if err != nil {
		return err
	}
	if res.State == useCases.AuthAuthenticated {
		return nil
	}

	code, err := prompt(in, "Enter code: ")
	if err != nil {
		return err
	}
	res, err = svc.SubmitCode(ctx, cred.AccountID, code, res.Challenge)
	if err != nil {
		return err
	}
	if res.State != useCases.AuthPasswordRequired {
		return nil
	}

	password, err := prompt(in, "Enter password: ")
	if err != nil {
		return err
	}
	_, err = svc.SubmitSecondFactor(ctx, cred.AccountID, password)
	return err
}

func prompt(in *bufio.Reader, text string) (string, error) {
	fmt.Print(text)
	line, err := in.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
