package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aescanero/chcount/internal/config"
	"github.com/aescanero/chcount/pkg/client"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	character := flag.String("c", "", "Character to count (server default when empty)")
	filePath := flag.String("f", "", "Read text from file instead of arguments or stdin")
	serverURL := flag.String("server", cfg.ServerURL, "chcount server URL")
	flag.Parse()

	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	if len(*character) > 1 {
		logger.Fatal("character must be a single byte", zap.String("character", *character))
	}

	text, err := readText(*filePath, flag.Args())
	if err != nil {
		logger.Fatal("failed to read input", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.Dial(ctx, &client.Config{
		ServerURL:       *serverURL,
		DialTimeout:     cfg.DialTimeout,
		RequestTimeout:  cfg.RequestTimeout,
		ResultRetention: cfg.ResultRetention,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal("failed to connect", zap.Error(err))
	}
	defer c.Close()

	waitCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	id, err := c.WaitID(waitCtx)
	cancel()
	if err != nil {
		logger.Fatal("no client id assigned", zap.Error(err))
	}
	logger.Debug("connected", zap.String("client_id", id))

	var opts []client.SubmitOption
	if *character != "" {
		opts = append(opts, client.WithCharacter((*character)[0]))
	}

	submitCtx, cancel := context.WithTimeout(ctx, cfg.ResultTimeout)
	defer cancel()

	result, err := c.Submit(submitCtx, text, opts...)
	if err != nil {
		logger.Fatal("count failed", zap.Error(err))
	}

	fmt.Println(result)
}

// readText takes the payload from a file, the arguments or stdin, in that order
func readText(path string, args []string) (string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
		return string(data), nil
	}

	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(data), nil
}

// initLogger writes to stderr so stdout carries only the result
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.OutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
