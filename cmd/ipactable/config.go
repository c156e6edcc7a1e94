package main

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ajitpratap0/ipactable/pkg/config"
)

// envPrefix namespaces environment overrides, e.g. IPACTABLE_TABLE_PREFETCH_SIZE.
const envPrefix = "IPACTABLE"

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"log-level":    "observability.log_level",
	"log-encoding": "observability.log_encoding",
	"metrics-addr": "observability.metrics_addr",
	"tracing":      "observability.enable_tracing",
	"work-dir":     "storage.work_dir",
	"prefetch":     "table.prefetch_size",
	"null-string":  "table.null_string",
	"algorithm":    "export.algorithm",
	"level":        "export.level",
}

// loadConfig reads the YAML file named by --config (or IPACTABLE_CONFIG) over
// the defaults, then applies environment variables and explicitly set flags.
func loadConfig(v *viper.Viper, flags *pflag.FlagSet) (*config.Config, error) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if f := flags.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}
	if f := flags.Lookup("config"); f != nil {
		if err := v.BindPFlag("config", f); err != nil {
			return nil, err
		}
	}

	cfg := config.NewConfig()
	if path := v.GetString("config"); path != "" {
		if err := config.Load(path, cfg); err != nil {
			return nil, err
		}
	}
	applyOverrides(v, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyOverrides(v *viper.Viper, cfg *config.Config) {
	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	setInt := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}

	setInt("table.prefetch_size", &cfg.Table.PrefetchSize)
	setInt("table.flush_every", &cfg.Table.FlushEvery)
	setInt("table.seek_threshold", &cfg.Table.SeekThreshold)
	setString("table.null_string", &cfg.Table.NullString)
	if v.IsSet("table.follow_poll_interval") {
		cfg.Table.FollowPollInterval = v.GetDuration("table.follow_poll_interval")
	}

	setString("storage.work_dir", &cfg.Storage.WorkDir)

	if v.IsSet("reader.poll_interval") {
		cfg.Reader.PollInterval = v.GetDuration("reader.poll_interval")
	}
	if v.IsSet("reader.wait_timeout") {
		cfg.Reader.WaitTimeout = v.GetDuration("reader.wait_timeout")
	}
	if v.IsSet("reader.mmap") {
		cfg.Reader.Mmap = v.GetBool("reader.mmap")
	}

	setString("export.algorithm", &cfg.Export.Algorithm)
	setInt("export.level", &cfg.Export.Level)
	setString("export.s3.bucket", &cfg.Export.S3.Bucket)
	setString("export.s3.region", &cfg.Export.S3.Region)
	setString("export.s3.prefix", &cfg.Export.S3.Prefix)
	setString("export.gcs.bucket", &cfg.Export.GCS.Bucket)
	setString("export.gcs.prefix", &cfg.Export.GCS.Prefix)
	setString("export.gcs.credentials_file", &cfg.Export.GCS.CredentialsFile)

	setString("observability.log_level", &cfg.Observability.LogLevel)
	setString("observability.log_encoding", &cfg.Observability.LogEncoding)
	setString("observability.metrics_addr", &cfg.Observability.MetricsAddr)
	if v.IsSet("observability.enable_tracing") {
		cfg.Observability.EnableTracing = v.GetBool("observability.enable_tracing")
	}
	if v.IsSet("observability.tracing_sample_rate") {
		cfg.Observability.TracingSampleRate = v.GetFloat64("observability.tracing_sample_rate")
	}
}
