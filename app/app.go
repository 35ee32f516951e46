// Copyright (c) 2025 Mouts and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package app provides the building blocks for assembling and running the service.
//
// The package supports post-run hooks for resource cleanup through [WithHooks].
// Hooks are executed after the inner runtime completes, allowing for graceful
// cleanup of resources like database pools and messaging clients.
package app

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// Builder is a generic interface for building application components.
type Builder[T any] interface {
	Build(context.Context) (T, error)
}

// BuilderFunc is a function type that implements the [Builder] interface.
type BuilderFunc[T any] func(context.Context) (T, error)

// Build implements the [Builder] interface.
func (f BuilderFunc[T]) Build(ctx context.Context) (T, error) {
	return f(ctx)
}

// Runtime is an interface representing a runnable application component.
type Runtime interface {
	Run(context.Context) error
}

// RuntimeFunc is a function type that implements the [Runtime] interface.
type RuntimeFunc func(context.Context) error

// Run implements the [Runtime] interface.
func (f RuntimeFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Run builds and runs the application using the provided [Builder].
//
// The context is wrapped with signal handling so SIGINT and SIGTERM
// cancel it and trigger a graceful shutdown of the built [Runtime].
func Run[T Runtime](ctx context.Context, builder Builder[T]) error {
	sigCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := builder.Build(sigCtx)
	if err != nil {
		return err
	}

	return rt.Run(sigCtx)
}

// LogError logs an error using the provided [slog.Handler].
func LogError(handler slog.Handler, err error) {
	if err == nil {
		return
	}

	log := slog.New(handler)
	log.Error("application error", slog.Any("error", err))
}

// HookFunc is a function that runs after the inner runtime completes.
// All hooks will be executed even if previous hooks fail; errors are
// collected and joined.
type HookFunc func(context.Context) error

// HookRegistry collects post-run hooks during application initialization.
// Hooks are executed in the order they are registered.
type HookRegistry struct {
	hooks []HookFunc
}

// OnPostRun registers a hook to be executed after the inner runtime completes.
func (r *HookRegistry) OnPostRun(hook HookFunc) {
	r.hooks = append(r.hooks, hook)
}

type hookRuntime struct {
	inner Runtime
	hooks []HookFunc
}

// Run executes the inner runtime and then runs all registered hooks.
// All hooks are executed even if the inner runtime or previous hooks fail.
func (rt hookRuntime) Run(ctx context.Context) error {
	runtimeErr := rt.inner.Run(ctx)

	var hookErrors error
	for _, hook := range rt.hooks {
		if err := hook(ctx); err != nil {
			hookErrors = errors.Join(hookErrors, err)
		}
	}

	return errors.Join(runtimeErr, hookErrors)
}

// WithHooks wraps a builder function with post-run hook support.
// The provided function receives a [HookRegistry] so it can register
// cleanup hooks while constructing the inner [Runtime].
func WithHooks[T Runtime](f func(context.Context, *HookRegistry) (T, error)) Builder[Runtime] {
	return BuilderFunc[Runtime](func(ctx context.Context) (Runtime, error) {
		registry := &HookRegistry{}

		inner, err := f(ctx, registry)
		if err != nil {
			return nil, err
		}

		return hookRuntime{
			inner: inner,
			hooks: registry.hooks,
		}, nil
	})
}
