//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/yanqian/polyglot-score/internal/bootstrap"
	"github.com/yanqian/polyglot-score/internal/domain/auth"
	"github.com/yanqian/polyglot-score/internal/infra/config"
	"github.com/yanqian/polyglot-score/pkg/logger"
)

func initializeDeps() (*deps, error) {
	wire.Build(
		config.Load,
		logger.New,
		bootstrap.ScoreSet,
		provideAuthConfig,
		auth.NewService,
		newDeps,
	)
	return nil, nil
}
