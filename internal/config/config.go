/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package config defines the flag-registered process configuration for
// tradeindexd: which bucket and prefix to backfill from, which queue (if
// any) to watch for incremental notifications, and how often to poll.
package config

import (
	"flag"
	"fmt"
	"time"
)

// Config holds every value tradeindexd needs to start. Zero value is
// invalid; call RegisterFlags then Validate after flag.Parse.
type Config struct {
	Region string
	Bucket string
	Prefix string

	// QueueURL selects event-driven mode when non-empty; polling mode
	// otherwise.
	QueueURL string

	PollingInterval time.Duration
}

// RegisterFlags binds Config's fields to f. Call flag.Parse (or
// f.Parse) afterward, then Validate.
func (c *Config) RegisterFlags(f *flag.FlagSet) {
	f.StringVar(&c.Region, "region", "us-east-1", "AWS region for S3 and SQS clients.")
	f.StringVar(&c.Bucket, "bucket", "", "S3 bucket containing trade objects.")
	f.StringVar(&c.Prefix, "prefix", "", "Key prefix under which trade objects are listed.")
	f.StringVar(&c.QueueURL, "queue-url", "", "SQS queue URL for incremental notifications. Empty selects polling mode.")
	f.DurationVar(&c.PollingInterval, "polling-interval", 30*time.Second, "Interval between re-list passes in polling mode. Ignored in event-driven mode.")
}

// Validate reports whether c is complete enough to start the process.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("config: --bucket is required")
	}
	if c.PollingInterval <= 0 {
		return fmt.Errorf("config: --polling-interval must be positive")
	}
	return nil
}

// EventDriven reports whether QueueURL selects event-driven incremental
// discovery rather than polling.
func (c *Config) EventDriven() bool {
	return c.QueueURL != ""
}
