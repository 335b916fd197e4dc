// Package s3_client holds the process-wide S3 client used by the schedule store.
package s3_client

import (
	"context"
	"crypto/tls"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/okieraised/relay-controller/internal/config"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var (
	mu     sync.RWMutex
	client *s3.Client
)

type Options struct {
	Region           string
	AccessKeyID      string
	SecretAccessKey  string
	SessionToken     string
	Endpoint         string // MinIO and other on-prem stores
	UsePathStyle     bool
	HTTPClient       *http.Client
	RetryMaxAttempts int
	RetryMaxBackoff  time.Duration
	Bucket           string // probed with HeadBucket when set
}

type Option func(*Options)

func WithRegion(r string) Option { return func(o *Options) { o.Region = r } }

func WithStaticCredentials(id, secret, token string) Option {
	return func(o *Options) { o.AccessKeyID, o.SecretAccessKey, o.SessionToken = id, secret, token }
}

func WithEndpoint(endpoint string, pathStyle bool) Option {
	return func(o *Options) { o.Endpoint, o.UsePathStyle = endpoint, pathStyle }
}

func WithHTTPClient(h *http.Client) Option { return func(o *Options) { o.HTTPClient = h } }

func WithRetry(maxAttempts int, maxBackoff time.Duration) Option {
	return func(o *Options) { o.RetryMaxAttempts, o.RetryMaxBackoff = maxAttempts, maxBackoff }
}

func WithBucketProbe(bucket string) Option { return func(o *Options) { o.Bucket = bucket } }

// OptionsFromViper reads the s3.* keys.
func OptionsFromViper() []Option {
	opts := []Option{
		WithRegion(config.String(config.S3Region, "us-east-1")),
		WithRetry(3, 5*time.Second),
		WithBucketProbe(viper.GetString(config.S3Bucket)),
	}
	if ak := viper.GetString(config.S3AccessKey); ak != "" {
		opts = append(opts, WithStaticCredentials(ak, viper.GetString(config.S3SecretKey), ""))
	}
	if ep := viper.GetString(config.S3Endpoint); ep != "" {
		opts = append(opts, WithEndpoint(ep, viper.GetBool(config.S3UsePathStyle)))
	}
	if viper.GetBool(config.S3TLSInsecureSkipVerify) {
		opts = append(opts, WithHTTPClient(&http.Client{
			Timeout:   30 * time.Second,
			Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}, // #nosec G402
		}))
	}
	return opts
}

// New builds a client without touching the process-wide one.
func New(ctx context.Context, opts ...Option) (*s3.Client, error) {
	o := Options{}
	for _, fn := range opts {
		fn(&o)
	}

	var lo []func(*awscfg.LoadOptions) error
	if o.Region != "" {
		lo = append(lo, awscfg.WithRegion(o.Region))
	}
	if o.HTTPClient != nil {
		lo = append(lo, awscfg.WithHTTPClient(o.HTTPClient))
	}
	if o.AccessKeyID != "" {
		lo = append(lo, awscfg.WithCredentialsProvider(aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(o.AccessKeyID, o.SecretAccessKey, o.SessionToken))))
	}
	if o.RetryMaxAttempts > 0 || o.RetryMaxBackoff > 0 {
		lo = append(lo, awscfg.WithRetryer(func() aws.Retryer {
			var r aws.Retryer = retry.NewStandard()
			if o.RetryMaxAttempts > 0 {
				r = retry.AddWithMaxAttempts(r, o.RetryMaxAttempts)
			}
			if o.RetryMaxBackoff > 0 {
				r = retry.AddWithMaxBackoffDelay(r, o.RetryMaxBackoff)
			}
			return r
		}))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, lo...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}

	c := s3.NewFromConfig(awsCfg, func(so *s3.Options) {
		so.UsePathStyle = o.UsePathStyle
		if o.Endpoint != "" {
			so.BaseEndpoint = aws.String(o.Endpoint)
		}
	})

	if o.Bucket != "" {
		if _, err := c.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(o.Bucket)}); err != nil {
			return nil, errors.Wrapf(err, "probe bucket %s", o.Bucket)
		}
	}
	return c, nil
}

// NewS3Client builds the process-wide client.
func NewS3Client(ctx context.Context, opts ...Option) error {
	c, err := New(ctx, opts...)
	if err != nil {
		return err
	}
	mu.Lock()
	client = c
	mu.Unlock()
	return nil
}

// Client returns the process-wide client. It panics before NewS3Client.
func Client() *s3.Client {
	mu.RLock()
	defer mu.RUnlock()
	if client == nil {
		panic("s3 client not initialized; call NewS3Client first")
	}
	return client
}
