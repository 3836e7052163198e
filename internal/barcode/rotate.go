package barcode

import "image"

// Upright rotates img clockwise by degrees. Only quarter turns are applied;
// other angles, and 0, return img unchanged.
func Upright(img image.Image, degrees int) image.Image {
	turns := ((degrees % 360) + 360) % 360
	if turns == 0 || turns%90 != 0 {
		return img
	}

	src := img.Bounds()
	w, h := src.Dx(), src.Dy()
	var dst *image.RGBA
	if turns == 180 {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.At(src.Min.X+x, src.Min.Y+y)
			switch turns {
			case 90:
				dst.Set(h-1-y, x, c)
			case 180:
				dst.Set(w-1-x, h-1-y, c)
			case 270:
				dst.Set(y, w-1-x, c)
			}
		}
	}
	return dst
}
