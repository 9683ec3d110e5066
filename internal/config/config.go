package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN 生成 postgres 连接串，gorm 与 pgx 共用
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// ChainConfig 链上托管配置，未启用时资金只记在内存托管账本
type ChainConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ChainId    int64  `mapstructure:"chain_id"`    // 链ID
	RpcUrl     string `mapstructure:"rpc_url"`     // RPC节点URL
	PrivateKey string `mapstructure:"private_key"` // 托管账户私钥
	WaitMined  bool   `mapstructure:"wait_mined"`  // 提取时等待交易上链
}

// NotifyConfig 事件通知配置
type NotifyConfig struct {
	PoolSize  int    `mapstructure:"pool_size"`  // 投递协程池大小
	Websocket bool   `mapstructure:"websocket"`  // 是否开启 websocket 推送
	PGChannel string `mapstructure:"pg_channel"` // pg_notify 频道，为空时不启用
}

type SchedulerConfig struct {
	Interval int `mapstructure:"interval"` // 秒
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug, info, warn, error, fatal
	Output string `mapstructure:"output"` // 输出目标: stdout, stderr, file
	File   string `mapstructure:"file"`   // 日志文件路径（当output为file时使用）
}

// GetLevel 实现 logger.LogConfig 接口
func (l LogConfig) GetLevel() string {
	return l.Level
}

// GetOutput 实现 logger.LogConfig 接口
func (l LogConfig) GetOutput() string {
	return l.Output
}

// GetFile 实现 logger.LogConfig 接口
func (l LogConfig) GetFile() string {
	return l.File
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	// 设置默认值
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "crowdfunding")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("chain.enabled", false)
	v.SetDefault("chain.chain_id", 1)
	v.SetDefault("chain.rpc_url", "http://127.0.0.1:8545")
	v.SetDefault("chain.private_key", "")
	v.SetDefault("chain.wait_mined", false)
	v.SetDefault("notify.pool_size", 8)
	v.SetDefault("notify.websocket", true)
	v.SetDefault("notify.pg_channel", "")
	v.SetDefault("scheduler.interval", 60)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file", "logs/app.log")

	// 自动读取环境变量，如 CFL_SERVER_PORT
	v.SetEnvPrefix("CFL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load 从默认路径加载配置，找不到配置文件时使用默认值
func Load() (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/cfledger")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return decode(v)
}

// LoadFile 从指定文件加载配置
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if c.Chain.Enabled && c.Chain.PrivateKey == "" {
		return errors.New("chain.private_key is required when chain custody is enabled")
	}
	if c.Chain.Enabled && !c.Database.Enabled {
		return errors.New("chain.enabled requires database.enabled")
	}
	if c.Notify.PGChannel != "" && !c.Database.Enabled {
		return errors.New("notify.pg_channel requires database.enabled")
	}
	if c.Notify.PoolSize <= 0 {
		return errors.New("notify.pool_size must be positive")
	}
	if c.Scheduler.Interval <= 0 {
		return errors.New("scheduler.interval must be positive")
	}
	return nil
}
