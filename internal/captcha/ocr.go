package captcha

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"time"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// DefaultThreshold is the fixed binarization cutoff applied after
// grayscale conversion, on the 0-255 luminance scale.
const DefaultThreshold uint8 = 150

const charWhitelist = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Recognizer turns a preprocessed captcha image into answer text. An
// empty string with a nil error means the recognizer gave up.
type Recognizer interface {
	Recognize(ctx context.Context, img []byte) (string, error)
}

// Preprocess converts raw captcha image bytes to a black-and-white PNG:
// grayscale, then a fixed-threshold binarization. Captcha glyphs survive
// this while most background noise does not.
func Preprocess(raw []byte, threshold uint8) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode captcha image: %w", err)
	}

	gray := imaging.Grayscale(src)
	bounds := gray.Bounds()
	bw := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.GrayModel.Convert(gray.At(x, y)).(color.Gray)
			if c.Y < threshold {
				bw.SetGray(x, y, color.Gray{Y: 0})
			} else {
				bw.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}

	var out bytes.Buffer
	if err := png.Encode(&out, bw); err != nil {
		return nil, fmt.Errorf("encode captcha image: %w", err)
	}
	return out.Bytes(), nil
}

// tesseractRecognizer runs the local tesseract engine restricted to an
// alphanumeric whitelist and single-line segmentation.
type tesseractRecognizer struct{}

// NewTesseract returns the local OCR recognizer.
func NewTesseract() Recognizer {
	return &tesseractRecognizer{}
}

func (r *tesseractRecognizer) Recognize(_ context.Context, img []byte) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetWhitelist(charWhitelist); err != nil {
		return "", err
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_LINE); err != nil {
		return "", err
	}
	if err := client.SetImageFromBytes(img); err != nil {
		return "", err
	}
	return client.Text()
}

// apiRecognizer calls a configured external recognition service. Used as
// the fallback when local OCR returns nothing.
type apiRecognizer struct {
	url    string
	key    string
	client *http.Client
}

// NewAPIRecognizer returns a recognizer backed by the external service at
// url, authenticated with a bearer key.
func NewAPIRecognizer(url, key string) Recognizer {
	return &apiRecognizer{
		url:    url,
		key:    key,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type apiRequest struct {
	Image   string     `json:"image"`
	Options apiOptions `json:"options"`
}

type apiOptions struct {
	Language string `json:"language"`
	Case     string `json:"case"`
}

type apiResponse struct {
	Text string `json:"text"`
}

func (r *apiRecognizer) Recognize(ctx context.Context, img []byte) (string, error) {
	payload, err := json.Marshal(apiRequest{
		Image: base64.StdEncoding.EncodeToString(img),
		Options: apiOptions{
			Language: "eng",
			Case:     "mixed",
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.key)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("recognition api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("recognition api returned %d", resp.StatusCode)
	}
	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode recognition response: %w", err)
	}
	return parsed.Text, nil
}
