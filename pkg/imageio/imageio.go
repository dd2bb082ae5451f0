// Package imageio reads reference images from disk into intensity
// matrices. PNG, JPEG, GIF, TIFF and BMP files are supported; color images
// are reduced to luminance and intensities scaled to [0,1].
package imageio

import (
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	"gonum.org/v1/gonum/mat"

	"sparsescan/pkg/models"
)

var supportedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".tif":  true,
	".tiff": true,
	".bmp":  true,
}

// LoadFile decodes an image file into a height x width intensity matrix.
func LoadFile(path string) (*mat.Dense, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %s", path)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to decode %s", path)
	}
	return ToMatrix(img), nil
}

// ToMatrix converts an image to a matrix of luminance values in [0,1].
// Row i of the result is image row Bounds().Min.Y+i.
func ToMatrix(img image.Image) *mat.Dense {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return &mat.Dense{}
	}
	data := make([]float64, width*height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			g := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
			data[y*width+x] = float64(g.Y) / 65535.0
		}
	}
	return mat.NewDense(height, width, data)
}

// LoadSEM reads a single-channel reference image.
func LoadSEM(path string, dwellTime float64) (models.Image, error) {
	data, err := LoadFile(path)
	if err != nil {
		return models.Image{}, err
	}
	img, err := models.NewSEMImage(data, dwellTime)
	if err != nil {
		return models.Image{}, errors.Wrapf(err, "image %s", path)
	}
	img.Name = filepath.Base(path)
	return img, nil
}

// LoadSIMS reads one file per mass channel, in the given order.
func LoadSIMS(paths []string, dwellTime float64) (models.Image, error) {
	if len(paths) == 0 {
		return models.Image{}, errors.Wrap(models.ErrValidation, "no channel files given")
	}
	channels := make([]*mat.Dense, len(paths))
	for i, p := range paths {
		data, err := LoadFile(p)
		if err != nil {
			return models.Image{}, err
		}
		channels[i] = data
	}
	img, err := models.NewSIMSImage(channels, dwellTime)
	if err != nil {
		return models.Image{}, err
	}
	img.Name = filepath.Base(filepath.Dir(paths[0]))
	return img, nil
}

// LoadSIMSDir reads every supported image in dir as a mass channel.
// Channels are ordered by the number embedded in each file name.
func LoadSIMSDir(dir string, dwellTime float64) (models.Image, error) {
	paths, err := ChannelFiles(dir)
	if err != nil {
		return models.Image{}, err
	}
	img, err := LoadSIMS(paths, dwellTime)
	if err != nil {
		return models.Image{}, err
	}
	img.Name = filepath.Base(dir)
	return img, nil
}

// ChannelFiles lists the supported image files of dir sorted by the
// numeric part of their names, ties broken by name.
func ChannelFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read %s", dir)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if supportedExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, errors.Wrapf(models.ErrValidation, "no images found in %s", dir)
	}

	sort.SliceStable(names, func(i, j int) bool {
		ni, nj := extractNumber(names[i]), extractNumber(names[j])
		if ni != nj {
			return ni < nj
		}
		return names[i] < names[j]
	})

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
	}
	return paths, nil
}

// extractNumber extracts the digits of a file name as a number.
func extractNumber(filename string) int {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	var digits strings.Builder
	for _, c := range base {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	if digits.Len() == 0 {
		return 0
	}
	num, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0
	}
	return num
}
