//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/yanqian/polyglot-score/internal/bootstrap"
	"github.com/yanqian/polyglot-score/internal/domain/auth"
	"github.com/yanqian/polyglot-score/internal/infra/config"
	httpiface "github.com/yanqian/polyglot-score/internal/interface/http"
	"github.com/yanqian/polyglot-score/pkg/logger"
)

func initializeApp() (*bootstrap.App, error) {
	wire.Build(
		config.Load,
		logger.New,
		bootstrap.ScoreSet,
		provideAuthConfig,
		auth.NewService,
		httpiface.NewHandler,
		httpiface.NewRouter,
		bootstrap.NewApp,
	)
	return nil, nil
}
