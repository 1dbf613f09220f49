package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	dotenvOnce sync.Once

	cacheMu sync.Mutex
	cache   = map[reflect.Type]*entry{}
)

type entry struct {
	once  sync.Once
	value any
	err   error
}

func loadDotenv() {
	dotenvOnce.Do(func() {
		// a missing .env file is fine
		_ = godotenv.Load()
	})
}

// Load fills v from the environment, reading .env once per process.
// Each config type is parsed once; later calls for the same type get the
// cached value, including a cached failure.
//
//	var cfg jobs.Config
//	if err := config.Load(&cfg); err != nil {
//	    return err
//	}
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}
	loadDotenv()

	key := reflect.TypeFor[T]()
	cacheMu.Lock()
	e, ok := cache[key]
	if !ok {
		e = &entry{}
		cache[key] = e
	}
	cacheMu.Unlock()

	e.once.Do(func() {
		var fresh T
		if err := env.Parse(&fresh); err != nil {
			e.err = errors.Join(ErrParsingConfig, err)
			return
		}
		e.value = fresh
	})
	if e.err != nil {
		return e.err
	}

	cached, ok := e.value.(T)
	if !ok {
		return ErrInvalidConfigType
	}
	*v = cached
	return nil
}

// MustLoad is like Load but panics on failure.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("config: load %s: %v", reflect.TypeFor[T](), err))
	}
}

// Parse reads T from the environment without caching.
func Parse[T any]() (T, error) {
	loadDotenv()
	v, err := env.ParseAs[T]()
	if err != nil {
		return v, errors.Join(ErrParsingConfig, err)
	}
	return v, nil
}
