// Copyright (c) 2025 Mouts and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/mouts-info/orderservice/app"
	"github.com/mouts-info/orderservice/internal/service"
)

func main() {
	err := app.Run(context.Background(), app.WithHooks(service.Init))
	if err != nil {
		app.LogError(slog.NewJSONHandler(os.Stderr, nil), err)
		os.Exit(1)
	}
}
