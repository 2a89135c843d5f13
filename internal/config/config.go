package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// AppConfig 应用配置
type AppConfig struct {
	Server ServerConfig `toml:"server"`
	Data   DataConfig   `toml:"data"`
	Import ImportConfig `toml:"import"`
	Export ExportConfig `toml:"export"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port    int  `toml:"port"`
	DevMode bool `toml:"dev_mode"`
}

// DataConfig 数据配置
type DataConfig struct {
	DataDir    string `toml:"data_dir"`
	DBDriver   string `toml:"db_driver"` // sqlite3 (cgo) | sqlite (纯 Go)
	DBFile     string `toml:"db_file"`
	MemoryFile string `toml:"memory_file"`
}

// ImportConfig 文件分析与行处理配置
type ImportConfig struct {
	MaxFiles             int     `toml:"max_files"`
	SampleRows           int     `toml:"sample_rows"`
	SampleValues         int     `toml:"sample_values"`
	MinSimilarity        float64 `toml:"min_similarity"`
	BatchSize            int     `toml:"batch_size"`
	SubmitTimeoutSeconds int     `toml:"submit_timeout_seconds"`
	RetryAttempts        int     `toml:"retry_attempts"`
	RetryInitialMs       int     `toml:"retry_initial_ms"`
	RetryMaxMs           int     `toml:"retry_max_ms"`
	SessionTTLMinutes    int     `toml:"session_ttl_minutes"`
}

// ExportConfig 导出配置
type ExportConfig struct {
	MaxRowsPerFile int `toml:"max_rows_per_file"`
}

// LoadConfigInfo 配置加载元信息
type LoadConfigInfo struct {
	PortSpecified bool
	Path          string
}

// DefaultConfig 默认配置
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:    20262,
			DevMode: false,
		},
		Data: DataConfig{
			DataDir:    "data",
			DBDriver:   "sqlite3",
			DBFile:     "flowmerge.db",
			MemoryFile: "template_memory.json",
		},
		Import: ImportConfig{
			MaxFiles:             20000,
			SampleRows:           100,
			SampleValues:         5,
			MinSimilarity:        0.6,
			BatchSize:            500,
			SubmitTimeoutSeconds: 7200,
			RetryAttempts:        5,
			RetryInitialMs:       200,
			RetryMaxMs:           5000,
			SessionTTLMinutes:    120,
		},
		Export: ExportConfig{
			MaxRowsPerFile: 20000,
		},
	}
}

// SubmitTimeout 整批处理超时
func (c ImportConfig) SubmitTimeout() time.Duration {
	return time.Duration(c.SubmitTimeoutSeconds) * time.Second
}

// RetryInitial 首次重试间隔
func (c ImportConfig) RetryInitial() time.Duration {
	return time.Duration(c.RetryInitialMs) * time.Millisecond
}

// RetryMax 最大重试间隔
func (c ImportConfig) RetryMax() time.Duration {
	return time.Duration(c.RetryMaxMs) * time.Millisecond
}

// SessionTTL 会话空闲过期时间
func (c ImportConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

func isPortSpecifiedInToml(data []byte) bool {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return false
	}

	serverAny, ok := raw["server"]
	if !ok {
		return false
	}

	serverMap, ok := serverAny.(map[string]any)
	if !ok {
		return false
	}

	_, ok = serverMap["port"]
	return ok
}

// GetExeDir 获取可执行文件所在目录
func GetExeDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

func baseDir() string {
	exeDir, err := GetExeDir()
	if err != nil {
		// 无法获取可执行文件目录，使用当前目录
		return "."
	}
	return exeDir
}

// LoadConfigWithInfo 从可执行文件同目录的 config.toml 加载配置并返回元信息
func LoadConfigWithInfo() (*AppConfig, LoadConfigInfo, error) {
	return LoadConfigFrom(filepath.Join(baseDir(), "config.toml"))
}

// LoadConfigFrom 从指定路径加载配置；文件不存在时使用默认配置，环境变量最后覆盖
func LoadConfigFrom(configPath string) (*AppConfig, LoadConfigInfo, error) {
	info := LoadConfigInfo{Path: configPath}
	config := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		info.PortSpecified = isPortSpecifiedInToml(data)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, info, err
		}
	case os.IsNotExist(err):
		// 配置文件不存在，使用默认配置
	default:
		return nil, info, err
	}

	applyEnv(config, &info)
	return config, info, nil
}

// 环境变量覆盖（用于 E2E / 本地运行）
func applyEnv(config *AppConfig, info *LoadConfigInfo) {
	if v := os.Getenv("FLOWMERGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			config.Server.Port = port
			info.PortSpecified = true
		}
	}
	if v := os.Getenv("FLOWMERGE_DATA_DIR"); v != "" {
		config.Data.DataDir = v
	}
	if v := os.Getenv("FLOWMERGE_DB_DRIVER"); v != "" {
		config.Data.DBDriver = v
	}
}

// LoadConfig 从 config.toml 加载配置
// 配置文件位于可执行文件同目录下
func LoadConfig() (*AppConfig, error) {
	config, _, err := LoadConfigWithInfo()
	return config, err
}

// SaveConfig 保存配置到 config.toml
func SaveConfig(config *AppConfig) error {
	return SaveConfigTo(config, filepath.Join(baseDir(), "config.toml"))
}

// SaveConfigTo 保存配置到指定路径
func SaveConfigTo(config *AppConfig, configPath string) error {
	data, err := toml.Marshal(config)
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0644)
}

// ResolveDataDir 数据目录；相对路径以可执行文件目录为基准
func ResolveDataDir(config *AppConfig) string {
	if filepath.IsAbs(config.Data.DataDir) {
		return config.Data.DataDir
	}
	return filepath.Join(baseDir(), config.Data.DataDir)
}

// EnsureDataDir 确保数据目录及子目录存在
func EnsureDataDir(config *AppConfig) (string, error) {
	dataDir := ResolveDataDir(config)

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", err
	}

	// 创建子目录
	subdirs := []string{"exports", "backups"}
	for _, subdir := range subdirs {
		path := filepath.Join(dataDir, subdir)
		if err := os.MkdirAll(path, 0755); err != nil {
			return "", err
		}
	}

	return dataDir, nil
}

// GetDataPath 获取数据文件路径；subdir 为空时位于数据目录根
func GetDataPath(config *AppConfig, subdir, filename string) string {
	return filepath.Join(ResolveDataDir(config), subdir, filename)
}
