package config

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env           string              `yaml:"env" env:"ENV" env-default:"prod"` // environment
	HTTPServer    HTTPServerConfig    `yaml:"http_server"`
	Database      DatabaseConfig      `yaml:"database"`
	JWT           JWTConfig           `yaml:"jwt"`
	Migrations    MigrationsConfig    `yaml:"migrations"`
	Notifications NotificationsConfig `yaml:"notifications"`
	WebSocket     WebSocketConfig     `yaml:"websocket"`
	Inventory     InventoryConfig     `yaml:"inventory"`
}

// HTTPServerConfig структура http сервера
type HTTPServerConfig struct {
	Address     string        `yaml:"address" env:"HTTP_ADDRESS" env-default:"localhost:8080"`
	Timeout     time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// DatabaseConfig структура по работе с БД
type DatabaseConfig struct {
	Host     string `yaml:"host" env:"DB_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env-default:"5432"`
	User     string `yaml:"user" env-required:"true"`
	Password string `yaml:"-" env:"DB_PASSWORD" env-required:"true"`
	Name     string `yaml:"name" env-required:"true"`
}

// JWTConfig настройка jwt. TokenTTL в минутах, используется cmd/admintoken.
type JWTConfig struct {
	Secret   string `yaml:"-" env:"JWT_SECRET" env-required:"true"`
	TokenTTL int    `yaml:"token_ttl" env-default:"60"`
}

type MigrationsConfig struct {
	Path string `yaml:"path" env-default:"./migrations"`
}

// NotificationsConfig шина событий и рассылка по подключениям
type NotificationsConfig struct {
	BusBuffer         int           `yaml:"bus_buffer" env-default:"256"`
	SendTimeout       time.Duration `yaml:"send_timeout" env-default:"5s"`
	FanoutParallelism int           `yaml:"fanout_parallelism" env-default:"16"`
	HandlerTimeout    time.Duration `yaml:"handler_timeout" env-default:"10s"`
}

type WebSocketConfig struct {
	SendBuffer     int           `yaml:"send_buffer" env-default:"32"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env-default:"10s"`
	PingInterval   time.Duration `yaml:"ping_interval" env-default:"50s"`
	PongWait       time.Duration `yaml:"pong_wait" env-default:"60s"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// InventoryConfig порог low stock, 0 отключает события
type InventoryConfig struct {
	LowStockThreshold int `yaml:"low_stock_threshold" env-default:"5"`
}

// MustLoad - если не загружаем - паникуем
func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		log.Fatal("CONFIG_PATH not exists")
	}
	return MustLoadByPath(configPath)
}

// fetchConfigPath читает -config. Флаги самой команды должны быть объявлены до вызова MustLoad.
func fetchConfigPath() string {
	var path string

	flag.StringVar(&path, "config", "", "path to config file")
	if !flag.Parsed() {
		flag.Parse()
	}

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	return path
}

func MustLoadByPath(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file not found: " + configPath)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("can't read config file %s: %v", configPath, err)
	}

	return &cfg
}
