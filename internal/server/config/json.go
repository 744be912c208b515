package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/michalmalinowski87/photovault/internal/flagx"
	"github.com/michalmalinowski87/photovault/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "1s" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON configuration
// files. After unmarshalling, its fields are copied into the runtime Config
// struct which uses time.Duration.
type JsonConfig struct {
	EndpointAddr                string         `json:"endpoint_addr"`
	DatabaseDSN                 string         `json:"database_dsn"`
	SecretKey                   string         `json:"secret_key"`
	AccessTokenValidityDuration timex.Duration `json:"access_token_validity_duration"`
	S3User                      string         `json:"s3_user"`
	S3Password                  string         `json:"s3_password"`
	S3Bucket                    string         `json:"s3_bucket"`
	S3Region                    string         `json:"s3_region"`
	S3BaseEndpoint              string         `json:"s3_base_endpoint"`
	SchedulerGroup              string         `json:"scheduler_group"`
	SchedulerRoleArn            string         `json:"scheduler_role_arn"`
	ExpireTargetArn             string         `json:"expire_target_arn"`
	DeleteTargetArn             string         `json:"delete_target_arn"`
	SchedulerDLQArn             string         `json:"scheduler_dlq_arn"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path is taken from the -c or -config command-line flags; if
// neither is set, no JSON file is loaded. If the file cannot be read or
// contains invalid JSON, the function panics.
//
// The caller is expected to merge these values with defaults and
// command-line flags as part of the full configuration process.
func parseJson(config *Config) {

	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	config.EndpointAddr = c.EndpointAddr
	config.DatabaseDSN = c.DatabaseDSN
	config.SecretKey = c.SecretKey
	config.AccessTokenValidityDuration = time.Duration(c.AccessTokenValidityDuration.Duration)
	config.S3User = c.S3User
	config.S3Password = c.S3Password
	config.S3Bucket = c.S3Bucket
	config.S3Region = c.S3Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
	config.SchedulerGroup = c.SchedulerGroup
	config.SchedulerRoleArn = c.SchedulerRoleArn
	config.ExpireTargetArn = c.ExpireTargetArn
	config.DeleteTargetArn = c.DeleteTargetArn
	config.SchedulerDLQArn = c.SchedulerDLQArn
}
