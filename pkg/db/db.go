package db

import (
	"fmt"
	"sync"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/plugin/dbresolver"

	"github.com/beegy-labs/authorization-service/config"
)

var db *gorm.DB
var once sync.Once

func dsn(username, password, host string, port int, name, timezone string) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=%s",
		host, username, password, name, port, timezone)
}

// GetConnection returns the shared gorm connection. Reads go to the
// replica when one is configured; writes always hit the primary. Callers
// that need read-your-writes route through dbresolver.Write explicitly.
func GetConnection() *gorm.DB {
	once.Do(func() {
		databaseConfig := config.Config.Database
		primary := dsn(
			databaseConfig.Username,
			databaseConfig.Password,
			databaseConfig.Host,
			databaseConfig.Port,
			databaseConfig.Name,
			databaseConfig.TimeZone,
		)

		var err error
		db, err = gorm.Open(postgres.New(postgres.Config{
			DSN:                  primary,
			PreferSimpleProtocol: true, // disables implicit prepared statement usage
		}), &gorm.Config{
			QueryFields: true, // QueryFields mode will select by all fields' name for current model
		})
		if err != nil {
			panic("could not open database connection")
		}

		if databaseConfig.Replica.Host != "" {
			replica := dsn(
				databaseConfig.Replica.Username,
				databaseConfig.Replica.Password,
				databaseConfig.Replica.Host,
				databaseConfig.Replica.Port,
				databaseConfig.Name,
				databaseConfig.TimeZone,
			)
			err = db.Use(dbresolver.Register(dbresolver.Config{
				Replicas: []gorm.Dialector{postgres.New(postgres.Config{
					DSN:                  replica,
					PreferSimpleProtocol: true,
				})},
			}))
			if err != nil {
				panic("could not register database replica")
			}
		}

		sqlDB, _ := db.DB()
		sqlDB.SetMaxIdleConns(databaseConfig.Pool.IdleConnections)
		sqlDB.SetMaxOpenConns(databaseConfig.Pool.MaxConnections)
		sqlDB.SetConnMaxLifetime(databaseConfig.Pool.ConnLifeTime)
	})
	return db
}

// Close closes the shared connection.
//
// https://github.com/go-gorm/gorm/issues/3216
//
// This only works with a single master connection, but when dealing with
// replicas using DBResolver, it does not close everything since DB.DB()
// only returns the master connection.
func Close(db *gorm.DB) {
	if db != nil {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	}
}
