package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

// Tray icons: a filled dot whose color shows the agent state.
var (
	iconData        = renderIcon(color.RGBA{0x60, 0x60, 0x60, 0xFF})
	iconDataRunning = renderIcon(color.RGBA{0x2E, 0x9E, 0x4F, 0xFF})
	iconDataError   = renderIcon(color.RGBA{0xD0, 0x3A, 0x2F, 0xFF})
)

const iconSize = 22

func renderIcon(fill color.RGBA) []byte {
	img := image.NewRGBA(image.Rect(0, 0, iconSize, iconSize))
	center := float64(iconSize-1) / 2
	radius := float64(iconSize)/2 - 1
	for y := 0; y < iconSize; y++ {
		for x := 0; x < iconSize; x++ {
			dx, dy := float64(x)-center, float64(y)-center
			if dx*dx+dy*dy <= radius*radius {
				img.SetRGBA(x, y, fill)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
