// Package profile describes the dataset variants the classifier can serve.
package profile

import (
	"fmt"
	"sort"
	"strings"
)

// Activation is the function applied to the raw network output.
type Activation int

const (
	// Softmax maps N logits to a distribution over N classes.
	Softmax Activation = iota
	// Sigmoid maps a single logit to P(class 1).
	Sigmoid
)

func (a Activation) String() string {
	switch a {
	case Softmax:
		return "softmax"
	case Sigmoid:
		return "sigmoid"
	default:
		return "unknown"
	}
}

// DatasetProfile holds everything that differs between dataset variants:
// input geometry, normalisation constants, class labels and output activation.
type DatasetProfile struct {
	Name        string
	Task        string
	Application string
	Dataset     string

	Channels int
	Height   int
	Width    int

	// Mean and Std hold one entry per channel.
	Mean []float32
	Std  []float32

	Labels     []string
	Activation Activation

	// LabeledResponse selects the {prediction_label, probabilities:{label:p}} envelope
	// instead of the bare probability list.
	LabeledResponse bool
	// DistributionField is the JSON key used for the per-class counts in /stats.
	DistributionField string

	DefaultModelPath string
}

const (
	MNIST       = "mnist"
	CatsDogs    = "cats-dogs"
	CatsDogs128 = "cats-dogs-128"
)

var (
	imagenetMean = []float32{0.485, 0.456, 0.406}
	imagenetStd  = []float32{0.229, 0.224, 0.225}
)

var profiles = map[string]DatasetProfile{
	MNIST: {
		Name:              MNIST,
		Task:              "Multi-class Image Classification",
		Application:       "Handwritten Digit Recognition",
		Dataset:           "MNIST",
		Channels:          1,
		Height:            28,
		Width:             28,
		Mean:              []float32{0.1307},
		Std:               []float32{0.3081},
		Labels:            []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"},
		Activation:        Softmax,
		DistributionField: "prediction_distribution",
		DefaultModelPath:  "models/mnist_cnn_model.onnx",
	},
	CatsDogs: {
		Name:              CatsDogs,
		Task:              "Binary Image Classification",
		Application:       "Pet Adoption Platform - Cat vs Dog Classifier",
		Dataset:           "Kaggle Cats and Dogs Dataset",
		Channels:          3,
		Height:            224,
		Width:             224,
		Mean:              imagenetMean,
		Std:               imagenetStd,
		Labels:            []string{"Cat", "Dog"},
		Activation:        Sigmoid,
		LabeledResponse:   true,
		DistributionField: "class_distribution",
		DefaultModelPath:  "models/cats_dogs_cnn_model.onnx",
	},
	CatsDogs128: {
		Name:              CatsDogs128,
		Task:              "Binary Image Classification",
		Application:       "Cat/Dogs Classifier (CIFAR-derived)",
		Dataset:           "CIFAR-10 cat/dog subset",
		Channels:          3,
		Height:            128,
		Width:             128,
		Mean:              imagenetMean,
		Std:               imagenetStd,
		Labels:            []string{"Cat", "Dog"},
		Activation:        Softmax,
		LabeledResponse:   true,
		DistributionField: "class_distribution",
		DefaultModelPath:  "models/cat_dogs_cnn_model.onnx",
	},
}

var aliases = map[string]string{
	"digits":   MNIST,
	"pets":     CatsDogs,
	"pets-128": CatsDogs128,
}

// Lookup returns the profile registered under name (case-insensitive, aliases allowed).
func Lookup(name string) (DatasetProfile, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[key]; ok {
		key = canonical
	}
	p, ok := profiles[key]
	if !ok {
		return DatasetProfile{}, fmt.Errorf("unknown dataset profile %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return p, nil
}

// Names lists the canonical profile names.
func Names() []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// InputSize is the number of values in one preprocessed sample.
func (p DatasetProfile) InputSize() int {
	return p.Channels * p.Height * p.Width
}

// InputShape is the NCHW shape of a batch-of-one input tensor.
func (p DatasetProfile) InputShape() []int64 {
	return []int64{1, int64(p.Channels), int64(p.Height), int64(p.Width)}
}

// OutputSize is the number of raw values the network emits per sample.
func (p DatasetProfile) OutputSize() int {
	if p.Activation == Sigmoid {
		return 1
	}
	return len(p.Labels)
}

// NumClasses is the number of classes reported to callers.
func (p DatasetProfile) NumClasses() int {
	return len(p.Labels)
}

// Grayscale reports whether the network consumes single-channel input.
func (p DatasetProfile) Grayscale() bool {
	return p.Channels == 1
}

// Label returns the label of class idx, or its decimal form when out of range.
func (p DatasetProfile) Label(idx int) string {
	if idx >= 0 && idx < len(p.Labels) {
		return p.Labels[idx]
	}
	return fmt.Sprintf("%d", idx)
}

// InputDescription renders the input geometry the way /model-info reports it.
func (p DatasetProfile) InputDescription() string {
	if p.Grayscale() {
		return fmt.Sprintf("%dx%d grayscale", p.Height, p.Width)
	}
	return fmt.Sprintf("%dx%d RGB", p.Height, p.Width)
}
