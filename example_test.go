package healthauth_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	healthauth "github.com/ppulimamidy/PersonalHealthAssistant-sub005"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store/memstore"
)

func exampleEngine() *healthauth.Engine {
	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	cfg := healthauth.DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Audit.Enabled = false

	engine, err := healthauth.New().
		WithConfig(cfg).
		WithBackend(memstore.New().Backend()).
		Build()
	if err != nil {
		panic(err)
	}
	return engine
}

// ExampleNew builds an engine over the in-memory store.
func ExampleNew() {
	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	cfg := healthauth.DefaultConfig()
	cfg.JWT.PrivateKey = priv

	engine, err := healthauth.New().
		WithConfig(cfg).
		WithBackend(memstore.New().Backend()).
		Build()
	if err != nil {
		fmt.Println("build:", err)
		return
	}
	defer engine.Close()
	fmt.Println(engine.Config().JWT.SigningMethod)
	// Output: ed25519
}

// ExampleEngine_Login shows that a wrong password and an unknown account
// produce the same error.
func ExampleEngine_Login() {
	engine := exampleEngine()
	defer engine.Close()
	ctx := context.Background()

	_, _ = engine.CreatePrincipal(ctx, healthauth.NewPrincipal{
		Email:    "ada@example.com",
		Password: "correct horse battery",
		Status:   store.PrincipalActive,
	})

	res, err := engine.Login(ctx, "ada@example.com", "correct horse battery")
	fmt.Println(err == nil && res.Tokens != nil)

	_, wrong := engine.Login(ctx, "ada@example.com", "not the password")
	_, unknown := engine.Login(ctx, "ghost@example.com", "correct horse battery")
	fmt.Println(wrong)
	fmt.Println(unknown)
	// Output:
	// true
	// invalid credentials
	// invalid credentials
}

// ExampleEngine_Refresh shows that presenting a rotated refresh token
// revokes the whole session.
func ExampleEngine_Refresh() {
	engine := exampleEngine()
	defer engine.Close()
	ctx := context.Background()

	_, _ = engine.CreatePrincipal(ctx, healthauth.NewPrincipal{
		Email:    "ada@example.com",
		Password: "correct horse battery",
		Status:   store.PrincipalActive,
	})
	res, _ := engine.Login(ctx, "ada@example.com", "correct horse battery")
	first := res.Tokens.RefreshToken

	next, err := engine.Refresh(ctx, first)
	fmt.Println(err)

	_, err = engine.Refresh(ctx, first)
	fmt.Println(errors.Is(err, healthauth.ErrTokenReused))

	_, err = engine.Refresh(ctx, next.RefreshToken)
	fmt.Println(errors.Is(err, healthauth.ErrTokenInvalid))
	// Output:
	// <nil>
	// true
	// true
}

// ExampleReportConfig prints the warnings for a development configuration.
func ExampleReportConfig() {
	cfg := healthauth.DefaultConfig()
	cfg.Hardening.StrictValidation = true
	cfg.RateLimit.Enabled = true

	for _, w := range healthauth.ReportConfig(cfg).Warnings {
		fmt.Println(w)
	}
	// Output: TOTP secrets are stored unsealed
}
