package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/chanzuckerberg/s3mi/pkg/config"
	"github.com/chanzuckerberg/s3mi/pkg/cpfile"
	"github.com/chanzuckerberg/s3mi/pkg/credentials"
	"github.com/chanzuckerberg/s3mi/pkg/logger"
	"github.com/chanzuckerberg/s3mi/pkg/rangefetch"
	"github.com/chanzuckerberg/s3mi/pkg/s3range"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	var (
		segmentSize   = flag.Int64("segment-size", cfg.SegmentSize, "bytes requested per range fetch")
		concurrency   = flag.Int("concurrency", cfg.ConcurrencyCap, "maximum in-flight fetches")
		memoryCap     = flag.Int("memory-cap", cfg.MemoryCap, "maximum buffered segments")
		fetchTimeout  = flag.Duration("fetch-timeout", cfg.FetchTimeout, "per-fetch inactivity bound")
		refreshMargin = flag.Duration("credential-refresh-margin", cfg.RefreshMargin, "credential cache refresh window")
		region        = flag.String("region", cfg.Region, "AWS region")
		endpoint      = flag.String("endpoint", cfg.Endpoint, "S3-compatible endpoint")
		output        = flag.StringP("output", "o", "", "destination file path (defaults to the object key's base name)")
		quiet         = flag.BoolP("quiet", "q", cfg.Quiet, "suppress progress output and informational logging")
		logLevel      = flag.String("log-level", "INFO", "DEBUG, INFO, WARN, or ERROR")
	)
	flag.Parse()

	logger.Init(*logLevel, *quiet)

	if flag.NArg() != 1 {
		logger.Fatal("usage: s3mi [flags] s3://bucket/key")
	}

	loc, err := parseLocator(flag.Arg(0))
	if err != nil {
		logger.Fatal("invalid object reference", "err", err)
	}

	destPath := *output
	if destPath == "" {
		destPath = loc.Key[strings.LastIndexByte(loc.Key, '/')+1:]
	}

	startTime := time.Now()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	client := s3range.New(http.DefaultClient, *endpoint)
	credProvider := credentials.NewChainProvider(*region)

	snap, err := credProvider.Retrieve(ctx)
	if err != nil {
		logger.Fatal("failed to obtain credentials", "err", err)
	}

	size, err := client.HeadSize(ctx, loc, snap)
	if err != nil {
		logger.Fatal("failed to determine object size", "bucket", loc.Bucket, "key", loc.Key, "err", err)
	}
	logger.Info("resolved object size", "bucket", loc.Bucket, "key", loc.Key, "bytes", size)

	job := rangefetch.Job{
		Locator:                 loc,
		Size:                    size,
		SegmentSize:             *segmentSize,
		ConcurrencyCap:          *concurrency,
		MemoryCap:               *memoryCap,
		FetchTimeout:            *fetchTimeout,
		CredentialRefreshMargin: *refreshMargin,
	}

	var bar *pb.ProgressBar
	if !*quiet && size > 0 {
		bar = pb.Full.Start64(size)
		bar.Set(pb.Bytes, true)
		job.OnSegmentEmitted = func(_ int, length int64) {
			bar.Add64(length)
		}
	}

	sink, err := cpfile.Create(destPath)
	if err != nil {
		logger.Fatal("failed to create output file", "path", destPath, "err", err)
	}

	engine := rangefetch.New(job, client, credProvider)
	runErr := engine.Run(ctx, sink)

	if bar != nil {
		bar.Finish()
	}

	if runErr != nil {
		sink.Abort()
		logger.Fatal("transfer failed", "err", runErr)
	}

	if err := sink.Commit(); err != nil {
		logger.Fatal("failed to publish output file", "path", destPath, "err", err)
	}

	logger.Info("transfer complete", "path", destPath, "bytes", humanize.Bytes(uint64(size)), "elapsed", time.Since(startTime))
}

func parseLocator(ref string) (rangefetch.Locator, error) {
	const prefix = "s3://"
	if !strings.HasPrefix(ref, prefix) {
		return rangefetch.Locator{}, fmt.Errorf("expected %s<bucket>/<key>, got %q", prefix, ref)
	}
	rest := ref[len(prefix):]
	idx := strings.IndexByte(rest, '/')
	if idx < 0 || idx == len(rest)-1 {
		return rangefetch.Locator{}, fmt.Errorf("expected %s<bucket>/<key>, got %q", prefix, ref)
	}
	return rangefetch.Locator{Bucket: rest[:idx], Key: rest[idx+1:]}, nil
}
