package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/pkg/errors"

	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/beegy-labs/authorization-service/config"
	"github.com/beegy-labs/authorization-service/pkg/db/migration"
	"github.com/beegy-labs/authorization-service/pkg/logger"
)

func dbExistsOrCreate(databaseConfig config.DatabaseConfig) error {
	datasource := fmt.Sprintf("host=%s user=%s password=%s dbname=postgres port=%d sslmode=disable TimeZone=%s",
		databaseConfig.Host,
		databaseConfig.Username,
		databaseConfig.Password,
		databaseConfig.Port,
		databaseConfig.TimeZone,
	)

	conn, err := sql.Open("pgx", datasource)
	if err != nil {
		return errors.Wrap(err, "connecting to maintenance database")
	}
	defer conn.Close()

	var count int
	if err := conn.QueryRow("SELECT COUNT(*) FROM pg_database WHERE datname = $1", databaseConfig.Name).Scan(&count); err != nil {
		return errors.Wrap(err, "checking database existence")
	}
	if count > 0 {
		return nil
	}

	_, err = conn.Exec(fmt.Sprintf("CREATE DATABASE %s;", databaseConfig.Name))
	return errors.Wrapf(err, "creating database %s", databaseConfig.Name)
}

func main() {
	if err := config.Init(config.ParseConfigFlag()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Second)
	defer cancel()

	log, _ := logger.GetZapLogger(ctx)

	databaseConfig := config.Config.Database
	if err := dbExistsOrCreate(databaseConfig); err != nil {
		log.Fatal(err.Error())
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		databaseConfig.Username,
		databaseConfig.Password,
		databaseConfig.Host,
		databaseConfig.Port,
		databaseConfig.Name,
	)

	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatal(err.Error())
	}
	defer conn.Close()

	driver, err := postgres.WithInstance(conn, &postgres.Config{})
	if err != nil {
		log.Fatal(err.Error())
	}

	m, err := migrate.NewWithDatabaseInstance("file://pkg/db/migration", databaseConfig.Name, driver)
	if err != nil {
		log.Fatal(err.Error())
	}

	curVersion, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		log.Fatal(err.Error())
	}
	if dirty {
		log.Fatal("database schema is dirty, resolve manually before migrating")
	}

	for step := curVersion; step < migration.TargetSchemaVersion; step++ {
		if err := m.Steps(1); err != nil {
			log.Fatal(err.Error())
		}
		if err := migration.Migrate(step + 1); err != nil {
			log.Fatal(err.Error())
		}
	}

	log.Info("database schema is up to date")
}
