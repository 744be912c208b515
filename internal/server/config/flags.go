package config

import (
	"flag"
	"os"
	"time"

	"github.com/michalmalinowski87/photovault/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string    HTTP bind address (e.g., ":8080")
//	-d string    PostgreSQL DSN
//	-s string    JWT HMAC secret key
//	-t int       access token validity, minutes
//	-u string    S3 user
//	-p string    S3 password
//	-b string    S3 bucket name
//	-g string    S3 region
//	-e string    S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-sg string   scheduler group name
//	-sr string   scheduler execution role ARN
//	-se string   expiry invocation target ARN
//	-sd string   deletion invocation target ARN
//	-sq string   scheduler dead-letter queue ARN
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes using
//     flagx.FilterArgs, avoiding collisions with other components.
//   - Duration flags are accepted as integers in minutes and then converted
//     to time.Duration values.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-d", "-s", "-t", "-u", "-p", "-b", "-g", "-e",
		"-sg", "-sr", "-se", "-sd", "-sq",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddr, "a", config.EndpointAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")

	fs.StringVar(&config.S3User, "u", config.S3User, "S3 user")
	fs.StringVar(&config.S3Password, "p", config.S3Password, "S3 password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	fs.StringVar(&config.SchedulerGroup, "sg", config.SchedulerGroup, "scheduler group name")
	fs.StringVar(&config.SchedulerRoleArn, "sr", config.SchedulerRoleArn, "scheduler execution role ARN")
	fs.StringVar(&config.ExpireTargetArn, "se", config.ExpireTargetArn, "expiry invocation target ARN")
	fs.StringVar(&config.DeleteTargetArn, "sd", config.DeleteTargetArn, "deletion invocation target ARN")
	fs.StringVar(&config.SchedulerDLQArn, "sq", config.SchedulerDLQArn, "scheduler dead-letter queue ARN")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
}
