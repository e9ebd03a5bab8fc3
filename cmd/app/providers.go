package main

import (
	"github.com/yanqian/polyglot-score/internal/domain/auth"
	"github.com/yanqian/polyglot-score/internal/infra/config"
)

func provideAuthConfig(cfg *config.Config) auth.Config {
	return auth.Config{
		Secret:   cfg.Auth.Secret,
		Issuer:   cfg.Auth.Issuer,
		TokenTTL: cfg.Auth.TokenTTL,
	}
}
