package main

import (
	"strconv"
	"time"

	"github.com/CzarSimon/httputil/dbutil"
	"github.com/CzarSimon/httputil/environ"
	"github.com/CzarSimon/httputil/jwt"
	"go.uber.org/zap"
)

type config struct {
	db              dbutil.Config
	port            string
	migrationsPath  string
	jwtCredentials  jwt.Credentials
	runner          runnerConfig
	maxParticipants int
}

type runnerConfig struct {
	url     string
	timeout time.Duration
}

func getConfig() config {
	return config{
		db: dbutil.MysqlConfig{
			Host:             environ.MustGet("DB_HOST"),
			Port:             environ.MustGet("DB_PORT"),
			Database:         environ.MustGet("DB_DATABASE"),
			User:             environ.MustGet("DB_USERNAME"),
			Password:         environ.MustGet("DB_PASSWORD"),
			ConnectionParams: "parseTime=true",
		},
		port:            environ.Get("SERVICE_PORT", "8080"),
		migrationsPath:  environ.Get("MIGRATIONS_PATH", "/etc/session-manager/migrations"),
		jwtCredentials:  getJwtCredentials(),
		runner:          getRunnerConfig(),
		maxParticipants: getMaxParticipants(),
	}
}

func getRunnerConfig() runnerConfig {
	timeoutSeconds, err := strconv.Atoi(environ.Get("RUNNER_TIMEOUT_SECONDS", "30"))
	if err != nil {
		log.Fatal("failed to parse runner timeout", zap.Error(err))
	}

	return runnerConfig{
		url:     environ.Get("RUNNER_URL", "https://emkc.org/api/v2/piston"),
		timeout: time.Duration(timeoutSeconds) * time.Second,
	}
}

func getMaxParticipants() int {
	maxParticipants, err := strconv.Atoi(environ.Get("SESSION_MAX_PARTICIPANTS", "1"))
	if err != nil {
		log.Fatal("failed to parse session participant capacity", zap.Error(err))
	}

	return maxParticipants
}

func getJwtCredentials() jwt.Credentials {
	return jwt.Credentials{
		Issuer: environ.MustGet("JWT_ISSUER"),
		Secret: environ.MustGet("JWT_SECRET"),
	}
}
