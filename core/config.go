package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		AppName          string
		Env              string // DEV (local; default), TEST, QA, PROD
		Build            string
		Debug            bool
		TestMode         bool
		SecretKey        string
		RollbarToken     string
		SendgridApiKey   string
		DefaultFromEmail mail.Address

		Server   ServerConfig
		Database DatabaseConfig
		Realtime RealtimeConfig
		Delays   DelaysConfig
		Mail     MailConfig
	}

	ServerConfig struct {
		Host               string
		DebugHost          string
		ShutdownTimeout    time.Duration
		JWTExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	RealtimeConfig struct {
		PingInterval   time.Duration
		IdleTimeout    time.Duration
		WriteTimeout   time.Duration
		AuthTimeout    time.Duration
		DispatchBuffer int
	}

	DelaysConfig struct {
		ScanInterval     time.Duration
		ThresholdPercent float64
	}

	MailConfig struct {
		HelpRequests bool // mail class teachers when a student asks for help
	}
)

func (dc DatabaseConfig) Address() string {
	return net.JoinHostPort(dc.Host, dc.Port)
}

// NewConfig loads config/.env.<env> (if any) then reads the STAGEBOARD_* environment.
func NewConfig() *Config {
	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	loadDotEnv(env)

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	v.SetEnvPrefix("stageboard")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, env)

	from, err := mail.ParseAddress(v.GetString("defaultFromEmail"))
	if err != nil {
		log.Fatalf("config.defaultFromEmail: %v", err)
	}

	return &Config{
		AppName:          v.GetString("appName"),
		Env:              env,
		Build:            v.GetString("build"),
		Debug:            v.GetBool("debug"),
		TestMode:         env == "TEST",
		SecretKey:        v.GetString("secretKey"),
		RollbarToken:     v.GetString("rollbarToken"),
		SendgridApiKey:   v.GetString("sendgridApiKey"),
		DefaultFromEmail: *from,
		Server: ServerConfig{
			Host:               v.GetString("server.host"),
			DebugHost:          v.GetString("server.debugHost"),
			ShutdownTimeout:    v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta: v.GetDuration("server.jwtExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		Realtime: RealtimeConfig{
			PingInterval:   v.GetDuration("realtime.pingInterval"),
			IdleTimeout:    v.GetDuration("realtime.idleTimeout"),
			WriteTimeout:   v.GetDuration("realtime.writeTimeout"),
			AuthTimeout:    v.GetDuration("realtime.authTimeout"),
			DispatchBuffer: v.GetInt("realtime.dispatchBuffer"),
		},
		Delays: DelaysConfig{
			ScanInterval:     v.GetDuration("delays.scanInterval"),
			ThresholdPercent: v.GetFloat64("delays.thresholdPercent"),
		},
		Mail: MailConfig{
			HelpRequests: v.GetBool("mail.helpRequests"),
		},
	}
}

func setDefaults(v *viper.Viper, env string) {
	v.SetDefault("appName", "StageBoard")
	v.SetDefault("build", "develop")
	v.SetDefault("debug", env == "DEV")
	v.SetDefault("secretKey", "v9b+2k3=ydq!x8@o0s7c^j4h_lm1w$t5r(e6n#p&uaz)fgi*")
	v.SetDefault("defaultFromEmail", "StageBoard <noreply@localhost>")

	v.SetDefault("server.host", "0.0.0.0:8000")
	v.SetDefault("server.debugHost", "0.0.0.0:4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "stageboard")
	v.SetDefault("database.user", "stageboard")
	v.SetDefault("database.password", "stageboard")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.disableTLS", env == "DEV" || env == "TEST")

	v.SetDefault("realtime.pingInterval", 30*time.Second)
	v.SetDefault("realtime.idleTimeout", 90*time.Second)
	v.SetDefault("realtime.writeTimeout", 10*time.Second)
	v.SetDefault("realtime.authTimeout", 10*time.Second)
	v.SetDefault("realtime.dispatchBuffer", 256)

	v.SetDefault("delays.scanInterval", 5*time.Minute)
	v.SetDefault("delays.thresholdPercent", 100.0)

	v.SetDefault("mail.helpRequests", true)
}

// loadDotEnv loads the .env file of the env if it exists (ignore if it does not).
func loadDotEnv(env string) {
	dir := os.Getenv("CONFIG_DIR")
	if dir == "" {
		dir = "config"
	}
	dotEnvPath := filepath.Join(dir, ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
}
