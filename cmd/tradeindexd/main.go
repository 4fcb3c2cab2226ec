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

package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/coinbase/tradeindex/internal/config"
	"github.com/coinbase/tradeindex/internal/ingest"
	"github.com/coinbase/tradeindex/internal/notifyqueue"
	"github.com/coinbase/tradeindex/internal/objstore"
	"github.com/coinbase/tradeindex/internal/queryapi"
	"github.com/coinbase/tradeindex/internal/tradeindex"
)

func main() {
	// 1. Config
	var cfg config.Config
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("tradeindexd: invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Dependencies
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		log.Fatalf("tradeindexd: load AWS config: %v", err)
	}

	objects := objstore.New(s3.NewFromConfig(awsCfg), cfg.Bucket)

	var queue ingest.NotificationQueue
	if cfg.EventDriven() {
		queue = notifyqueue.New(sqs.NewFromConfig(awsCfg), cfg.QueueURL)
	}

	// 3. Services
	store := tradeindex.New()
	_ = queryapi.New(store) // exposed to downstream consumers via an RPC/HTTP layer, out of scope here

	coordinator := ingest.New(store, objects, queue, ingest.Config{
		Prefix:          cfg.Prefix,
		PollingInterval: cfg.PollingInterval,
	})

	log.Printf("tradeindexd: backfilling bucket=%s prefix=%s", cfg.Bucket, cfg.Prefix)
	result, err := coordinator.Backfill(ctx)
	if err != nil {
		// No failure kind observed during backfill is fatal to the process;
		// transport and per-object failures are already recorded in
		// result.Errors. Log and keep going rather than exiting.
		log.Printf("tradeindexd: backfill pass reported an error: %v", err)
	}
	log.Printf("tradeindexd: backfill complete: %d files, %d entries, %d errors",
		result.FilesProcessed, result.EntriesLoaded, len(result.Errors))
	for _, objErr := range result.Errors {
		log.Printf("tradeindexd: backfill error for %s: %s", objErr.Key, objErr.Message)
	}

	mode := "polling"
	if cfg.EventDriven() {
		mode = "event-driven"
	}
	log.Printf("tradeindexd: starting incremental discovery in %s mode", mode)
	coordinator.StartWatching(ctx)

	<-ctx.Done()
	log.Println("tradeindexd: shutdown signal received, stopping")
	coordinator.StopWatching()
	log.Printf("tradeindexd: stopped after processing %d objects", coordinator.ProcessedCount())
}
