package sampler

import "image"

// BGRToRGBA converts a packed bgr24 buffer into an RGBA image. Decoders emit
// blue-green-red byte order; the model expects red-green-blue.
func BGRToRGBA(buf []byte, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	n := width * height
	if len(buf) < n*3 {
		n = len(buf) / 3
	}

	for i := 0; i < n; i++ {
		src := buf[i*3 : i*3+3]
		dst := img.Pix[i*4 : i*4+4]
		dst[0] = src[2]
		dst[1] = src[1]
		dst[2] = src[0]
		dst[3] = 0xff
	}

	return img
}
