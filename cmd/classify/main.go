// cmd/classify classifies image files from the command line and prints one
// JSON result per file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/SyedDaiam9101/classifier-service/internal/inference"
	"github.com/SyedDaiam9101/classifier-service/internal/logging"
	"github.com/SyedDaiam9101/classifier-service/internal/predlog"
	"github.com/SyedDaiam9101/classifier-service/internal/profile"
	"github.com/SyedDaiam9101/classifier-service/internal/service"
)

type result struct {
	File            string             `json:"file"`
	Prediction      *int               `json:"prediction,omitempty"`
	PredictionLabel string             `json:"prediction_label,omitempty"`
	Probabilities   map[string]float64 `json:"probabilities,omitempty"`
	Confidence      float64            `json:"confidence,omitempty"`
	InferenceTimeMs float64            `json:"inference_time_ms,omitempty"`
	Error           string             `json:"error,omitempty"`
}

func main() {
	profileName := flag.String("profile", profile.CatsDogs, "Dataset profile: "+fmt.Sprint(profile.Names()))
	modelPath := flag.String("model", "", "Path to ONNX model file (default: the profile's model)")
	onnxLib := flag.String("onnx-library", "", "Path to the onnxruntime shared library")
	logPath := flag.String("log-path", "", "Append predictions to this log (optional)")
	useMock := flag.Bool("mock", false, "Use mock inference engine")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] image...\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	log, err := logging.New(level, "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	failed, err := classify(context.Background(), options{
		profile: *profileName,
		model:   *modelPath,
		onnxLib: *onnxLib,
		logPath: *logPath,
		mock:    *useMock,
		files:   flag.Args(),
		log:     log,
		out:     os.Stdout,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

type options struct {
	profile string
	model   string
	onnxLib string
	logPath string
	mock    bool
	files   []string
	log     *zap.SugaredLogger
	out     io.Writer
}

// classify returns the number of files that could not be classified.
func classify(ctx context.Context, opts options) (int, error) {
	prof, err := profile.Lookup(opts.profile)
	if err != nil {
		return 0, err
	}

	var model *inference.Model
	if opts.mock {
		model = inference.NewLoadedModel("mock", inference.NewMock(prof.OutputSize()))
	} else {
		path := opts.model
		if path == "" {
			path = prof.DefaultModelPath
		}
		model, err = inference.Load(inference.LoadOptions{
			Path: path,
			Factory: inference.ONNXFactory(inference.ONNXOptions{
				OutputDim:   int64(prof.OutputSize()),
				LibraryPath: opts.onnxLib,
			}),
		})
		if err != nil {
			var notFound *inference.ModelNotFoundError
			if errors.As(err, &notFound) {
				return 0, fmt.Errorf("model file not found at %s", notFound.Path)
			}
			return 0, err
		}
	}
	defer model.Close()

	// Without -log-path predictions go to a throwaway log.
	logFile := opts.logPath
	if logFile == "" {
		dir, err := os.MkdirTemp("", "classify-")
		if err != nil {
			return 0, err
		}
		defer os.RemoveAll(dir)
		logFile = filepath.Join(dir, "predictions.jsonl")
	}

	svc := service.New(service.Options{
		Profile: prof,
		Model:   model,
		Log:     predlog.NewLogger(logFile),
		Logger:  opts.log,
	})

	failed := 0
	for _, file := range opts.files {
		res := result{File: file}
		pred, err := svc.PredictFile(ctx, file)
		if err != nil {
			failed++
			res.Error = err.Error()
		} else {
			class := pred.Class
			res.Prediction = &class
			res.PredictionLabel = pred.Label
			res.Probabilities = pred.ProbabilityMap()
			res.Confidence = pred.Confidence
			res.InferenceTimeMs = pred.InferenceTimeMs
		}
		line, err := sonic.Marshal(res)
		if err != nil {
			return failed, err
		}
		fmt.Fprintln(opts.out, string(line))
	}
	return failed, nil
}
