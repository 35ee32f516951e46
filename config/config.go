// Copyright (c) 2025 Mouts and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package config provides composable readers for runtime configuration.
//
// A [Reader] yields a single configuration value which may be unset, for
// example when the backing environment variable is not exported. Readers
// compose with [Map] and [Or] so packages can declare how a value is parsed
// and defaulted without caring where it comes from.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ErrNotSet is returned by [Read] when a [Reader] yields no value.
var ErrNotSet = errors.New("config: value not set")

// Value represents an optional configuration value.
// The zero value is unset.
type Value[T any] struct {
	val T
	set bool
}

// ValueOf returns a set [Value] holding v.
func ValueOf[T any](v T) Value[T] {
	return Value[T]{val: v, set: true}
}

// Unset returns whether the value is absent.
func (v Value[T]) Unset() bool {
	return !v.set
}

// Reader reads a single configuration value.
type Reader[T any] interface {
	Read(context.Context) (Value[T], error)
}

// ReaderFunc is an adapter to allow the use of ordinary functions as [Reader]s.
type ReaderFunc[T any] func(context.Context) (Value[T], error)

// Read implements the [Reader] interface.
func (f ReaderFunc[T]) Read(ctx context.Context) (Value[T], error) {
	return f(ctx)
}

// ReaderOf returns a [Reader] which always yields v.
func ReaderOf[T any](v T) Reader[T] {
	return ReaderFunc[T](func(ctx context.Context) (Value[T], error) {
		return ValueOf(v), nil
	})
}

// Env returns a [Reader] backed by the named environment variable.
// An unexported variable yields an unset [Value], not an error.
func Env(key string) Reader[string] {
	return ReaderFunc[string](func(ctx context.Context) (Value[string], error) {
		s, ok := os.LookupEnv(key)
		if !ok {
			return Value[string]{}, nil
		}
		return ValueOf(s), nil
	})
}

// Map transforms the value read from r with f. Unset values pass
// through untransformed.
func Map[A, B any](r Reader[A], f func(context.Context, A) (B, error)) Reader[B] {
	return ReaderFunc[B](func(ctx context.Context) (Value[B], error) {
		va, err := r.Read(ctx)
		if err != nil || va.Unset() {
			return Value[B]{}, err
		}

		b, err := f(ctx, va.val)
		if err != nil {
			return Value[B]{}, err
		}
		return ValueOf(b), nil
	})
}

// Or returns a [Reader] which yields the first set value from rs.
func Or[T any](rs ...Reader[T]) Reader[T] {
	return ReaderFunc[T](func(ctx context.Context) (Value[T], error) {
		for _, r := range rs {
			v, err := r.Read(ctx)
			if err != nil {
				return Value[T]{}, err
			}
			if !v.Unset() {
				return v, nil
			}
		}
		return Value[T]{}, nil
	})
}

// Read reads a value from r, returning [ErrNotSet] when r yields nothing.
func Read[T any](ctx context.Context, r Reader[T]) (T, error) {
	var zero T
	if r == nil {
		return zero, ErrNotSet
	}

	v, err := r.Read(ctx)
	if err != nil {
		return zero, err
	}
	if v.Unset() {
		return zero, ErrNotSet
	}
	return v.val, nil
}

// Must reads a value from r and panics if it is unset or fails to read.
// It is meant for application startup paths where a missing value is fatal.
func Must[T any](ctx context.Context, r Reader[T]) T {
	v, err := Read(ctx, r)
	if err != nil {
		panic(fmt.Errorf("config: failed to read required value: %w", err))
	}
	return v
}

// MustOr reads a value from r, falling back to def when r is nil or unset.
// Read failures still panic since they signal a malformed value rather
// than an absent one.
func MustOr[T any](ctx context.Context, def T, r Reader[T]) T {
	if r == nil {
		return def
	}

	v, err := r.Read(ctx)
	if err != nil {
		panic(fmt.Errorf("config: failed to read value: %w", err))
	}
	if v.Unset() {
		return def
	}
	return v.val
}

// DurationEnv reads a [time.Duration] from the named environment variable
// using [time.ParseDuration] (e.g. "1s", "1m30s").
func DurationEnv(key string) Reader[time.Duration] {
	return Map(Env(key), func(ctx context.Context, s string) (time.Duration, error) {
		return time.ParseDuration(s)
	})
}

// IntEnv reads an int from the named environment variable.
func IntEnv(key string) Reader[int] {
	return Map(Env(key), func(ctx context.Context, s string) (int, error) {
		return strconv.Atoi(s)
	})
}

// Float64Env reads a float64 from the named environment variable.
func Float64Env(key string) Reader[float64] {
	return Map(Env(key), func(ctx context.Context, s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}
