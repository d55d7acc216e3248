/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package store

import (
	"fmt"

	"github.com/sentinela-project/sentinela/internal/config"
)

// NewStore creates a store based on configuration
func NewStore(cfg *config.Config) (Store, error) {
	dialect := cfg.Database.Dialect
	dsn := cfg.Database.DSN

	switch dialect {
	case "sqlite", "":
		if dsn == "" {
			dsn = "sentinela.db"
		}
		return NewGormStore("sqlite", dsn)

	case "postgres", "mysql":
		if dsn == "" {
			return nil, fmt.Errorf("database.dsn required when dialect is %s", dialect)
		}
		pool := ConnectionPoolConfig{
			MaxOpenConns:    cfg.Database.PoolSize,
			MaxIdleConns:    cfg.Database.MaxIdleConnections,
			ConnMaxLifetime: cfg.Database.ConnectionMaxLifetime,
		}
		return NewGormStoreWithPool(dialect, dsn, pool)

	default:
		return nil, fmt.Errorf("unknown database dialect: %s", dialect)
	}
}
