package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupCanonicalAndAliases(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"mnist", MNIST},
		{"MNIST", MNIST},
		{"digits", MNIST},
		{" pets ", CatsDogs},
		{"cats-dogs", CatsDogs},
		{"pets-128", CatsDogs128},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Lookup(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Name)
		})
	}
}

func TestLookupUnknown(t *testing.T) {
	_, err := Lookup("imagenet")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown dataset profile")
}

func TestProfileGeometry(t *testing.T) {
	digits, _ := Lookup(MNIST)
	assert.Equal(t, 784, digits.InputSize())
	assert.Equal(t, []int64{1, 1, 28, 28}, digits.InputShape())
	assert.Equal(t, 10, digits.OutputSize())
	assert.True(t, digits.Grayscale())
	assert.False(t, digits.LabeledResponse)

	pets, _ := Lookup(CatsDogs)
	assert.Equal(t, 3*224*224, pets.InputSize())
	assert.Equal(t, 1, pets.OutputSize(), "sigmoid head emits a single logit")
	assert.Equal(t, 2, pets.NumClasses())
	assert.Equal(t, "224x224 RGB", pets.InputDescription())

	small, _ := Lookup(CatsDogs128)
	assert.Equal(t, 2, small.OutputSize())
	assert.Equal(t, Softmax, small.Activation)
}

func TestLabelFallback(t *testing.T) {
	pets, _ := Lookup(CatsDogs)
	assert.Equal(t, "Dog", pets.Label(1))
	assert.Equal(t, "7", pets.Label(7))
}

func TestNormalisationMatchesChannels(t *testing.T) {
	for _, name := range Names() {
		p, err := Lookup(name)
		require.NoError(t, err)
		assert.Len(t, p.Mean, p.Channels, name)
		assert.Len(t, p.Std, p.Channels, name)
	}
}
