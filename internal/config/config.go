package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Generator   Generator   `yaml:"generator"`
	Compile     Compile     `yaml:"compile"`
	Languages   Languages   `yaml:"languages"`
	Oracle      Oracle      `yaml:"oracle"`
	Runner      Runner      `yaml:"runner"`
	Results     Results     `yaml:"results"`
	ObjectStore ObjectStore `yaml:"objectstore"`
	Ledger      Ledger      `yaml:"ledger"`
	Metrics     Metrics     `yaml:"metrics"`
	Log         Log         `yaml:"log"`
}

type Generator struct {
	Addr      string        `yaml:"addr"`
	Protocol  string        `yaml:"protocol"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheSize int           `yaml:"cache_size"`
	// Command, when set, is launched before the run. A "{port}" argument
	// is replaced by the port in Addr.
	Command      []string      `yaml:"command"`
	EnvFile      string        `yaml:"env_file"`
	LogDir       string        `yaml:"log_dir"`
	StartTimeout time.Duration `yaml:"start_timeout"`
}

type Compile struct {
	Timeout     time.Duration `yaml:"timeout"`
	ExecTimeout time.Duration `yaml:"exec_timeout"`
	Workers     int           `yaml:"workers"`
}

type Languages struct {
	Reference Language `yaml:"reference"`
	Candidate Language `yaml:"candidate"`
}

type Language struct {
	Name      string   `yaml:"name"`
	Compiler  string   `yaml:"compiler"`
	Runtime   string   `yaml:"runtime"`
	WorkDir   string   `yaml:"work_dir"`
	Classpath []string `yaml:"classpath"`
	Args      []string `yaml:"args"`
	// Image is the toolchain image used when runner.mode is docker.
	Image string `yaml:"image"`
}

type Oracle struct {
	RegressionThreshold float64       `yaml:"regression_threshold"`
	MaxTrials           int           `yaml:"max_trials"`
	CalibrationTarget   time.Duration `yaml:"calibration_target"`
	InitialRepeat       int64         `yaml:"initial_repeat"`
}

type Runner struct {
	Mode        string  `yaml:"mode"`
	CPULimit    float64 `yaml:"cpu_limit"`
	MemoryLimit int64   `yaml:"memory_limit"`
}

type Results struct {
	Dir string `yaml:"dir"`
}

type ObjectStore struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix"`
}

func (o ObjectStore) Enabled() bool { return o.Endpoint != "" }

type Ledger struct {
	DSN         string        `yaml:"dsn"`
	PingTimeout time.Duration `yaml:"ping_timeout"`
}

func (l Ledger) Enabled() bool { return l.DSN != "" }

type Metrics struct {
	Addr string `yaml:"addr"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the YAML file at path, applies PERFFECT_* environment
// overrides and fills defaults. An empty path yields the defaults. A .env
// file in the working directory, if any, is loaded first without
// overriding variables that are already set.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	if err := validate(&cfg); err != nil {
		if path == "" {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	var err error
	cfg.Generator.Addr = envString("PERFFECT_GENERATOR_ADDR", cfg.Generator.Addr)
	if cfg.Generator.Timeout, err = envDuration("PERFFECT_GENERATOR_TIMEOUT", cfg.Generator.Timeout); err != nil {
		return err
	}
	if cfg.Oracle.RegressionThreshold, err = envFloat("PERFFECT_REGRESSION_THRESHOLD", cfg.Oracle.RegressionThreshold); err != nil {
		return err
	}
	if cfg.Oracle.MaxTrials, err = envInt("PERFFECT_MAX_TRIALS", cfg.Oracle.MaxTrials); err != nil {
		return err
	}
	cfg.Results.Dir = envString("PERFFECT_RESULTS_DIR", cfg.Results.Dir)
	cfg.Ledger.DSN = envString("PERFFECT_LEDGER_DSN", cfg.Ledger.DSN)
	cfg.ObjectStore.Endpoint = envString("PERFFECT_S3_ENDPOINT", cfg.ObjectStore.Endpoint)
	cfg.ObjectStore.AccessKey = envString("PERFFECT_S3_ACCESS_KEY", cfg.ObjectStore.AccessKey)
	cfg.ObjectStore.SecretKey = envString("PERFFECT_S3_SECRET_KEY", cfg.ObjectStore.SecretKey)
	cfg.ObjectStore.Bucket = envString("PERFFECT_S3_BUCKET", cfg.ObjectStore.Bucket)
	cfg.Metrics.Addr = envString("PERFFECT_METRICS_ADDR", cfg.Metrics.Addr)
	cfg.Log.Level = envString("PERFFECT_LOG_LEVEL", cfg.Log.Level)
	return nil
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", key, err)
		}
		return d, nil
	}
	return def, nil
}

func envFloat(key string, def float64) (float64, error) {
	if v, ok := os.LookupEnv(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", key, err)
		}
		return f, nil
	}
	return def, nil
}

func envInt(key string, def int) (int, error) {
	if v, ok := os.LookupEnv(key); ok {
		i, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", key, err)
		}
		return i, nil
	}
	return def, nil
}

func validate(cfg *Config) error {
	g := &cfg.Generator
	if g.Addr == "" {
		g.Addr = "http://localhost:50051"
	}
	switch g.Protocol {
	case "":
		g.Protocol = "grpc"
	case "grpc", "connect":
	default:
		return fmt.Errorf("generator.protocol must be grpc or connect, got %q", g.Protocol)
	}
	if g.Timeout == 0 {
		g.Timeout = 2 * time.Minute
	}
	if g.CacheSize == 0 {
		g.CacheSize = 256
	}
	if g.StartTimeout == 0 {
		g.StartTimeout = 30 * time.Second
	}

	c := &cfg.Compile
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.ExecTimeout == 0 {
		c.ExecTimeout = 30 * time.Second
	}
	if c.Workers == 0 {
		c.Workers = 2
	}
	if c.Workers < 0 {
		return fmt.Errorf("compile.workers must be positive")
	}

	if cfg.Languages.Reference.Name == "" {
		cfg.Languages.Reference.Name = "java"
	}
	if cfg.Languages.Candidate.Name == "" {
		cfg.Languages.Candidate.Name = "kotlin"
	}
	for role, l := range map[string]*Language{"reference": &cfg.Languages.Reference, "candidate": &cfg.Languages.Candidate} {
		if err := fillLanguage(l); err != nil {
			return fmt.Errorf("languages.%s: %w", role, err)
		}
	}
	if cfg.Languages.Reference.Name == cfg.Languages.Candidate.Name {
		return fmt.Errorf("reference and candidate languages must differ, both are %s", cfg.Languages.Reference.Name)
	}

	o := &cfg.Oracle
	if o.RegressionThreshold == 0 {
		o.RegressionThreshold = 1.5
	}
	if o.RegressionThreshold < 1 {
		return fmt.Errorf("oracle.regression_threshold must be at least 1, got %g", o.RegressionThreshold)
	}
	if o.MaxTrials < 0 {
		return fmt.Errorf("oracle.max_trials must not be negative")
	}
	if o.CalibrationTarget == 0 {
		o.CalibrationTarget = time.Second
	}
	if o.InitialRepeat == 0 {
		o.InitialRepeat = 10
	}
	if c.ExecTimeout <= o.CalibrationTarget {
		return fmt.Errorf("compile.exec_timeout (%s) must exceed oracle.calibration_target (%s)", c.ExecTimeout, o.CalibrationTarget)
	}

	switch cfg.Runner.Mode {
	case "":
		cfg.Runner.Mode = "local"
	case "local":
	case "docker":
		for _, l := range []Language{cfg.Languages.Reference, cfg.Languages.Candidate} {
			if l.Image == "" {
				return fmt.Errorf("languages: %s needs an image when runner.mode is docker", l.Name)
			}
		}
	default:
		return fmt.Errorf("runner.mode must be local or docker, got %q", cfg.Runner.Mode)
	}

	if cfg.Results.Dir == "" {
		cfg.Results.Dir = "results"
	}
	if cfg.ObjectStore.Enabled() && cfg.ObjectStore.Bucket == "" {
		cfg.ObjectStore.Bucket = "perffect"
	}
	if cfg.Ledger.PingTimeout == 0 {
		cfg.Ledger.PingTimeout = 5 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	return nil
}

func fillLanguage(l *Language) error {
	switch l.Name {
	case "java":
		if l.Compiler == "" {
			l.Compiler = "javac"
		}
		if l.Runtime == "" {
			l.Runtime = "java"
		}
	case "kotlin":
		if l.Compiler == "" {
			l.Compiler = "kotlinc"
		}
		if l.Runtime == "" {
			l.Runtime = "kotlin"
		}
	default:
		return fmt.Errorf("name must be java or kotlin, got %q", l.Name)
	}
	if l.WorkDir == "" {
		l.WorkDir = "work/" + l.Name
	}
	return nil
}
