package toolkit

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/ggoodman/cheqd-mcp-toolkit/mcpservice"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	qrModulePixels  = 8
	qrMarginModules = 2
)

// ErrQRTooLarge is returned when content exceeds QR code capacity.
var ErrQRTooLarge = errors.New("The amount of data is too big to be stored in a QR Code")

// invitationQR renders content as a PNG QR code at the highest error
// correction level, 8px per module and a 2 module quiet zone.
func invitationQR(content string) ([]byte, error) {
	q, err := qrcode.New(content, qrcode.Highest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQRTooLarge, err)
	}
	q.DisableBorder = true
	bitmap := q.Bitmap()

	modules := len(bitmap) + 2*qrMarginModules
	size := modules * qrModulePixels
	img := image.NewPaletted(image.Rect(0, 0, size, size), color.Palette{color.White, color.Black})
	for y, row := range bitmap {
		for x, set := range row {
			if !set {
				continue
			}
			x0 := (x + qrMarginModules) * qrModulePixels
			y0 := (y + qrMarginModules) * qrModulePixels
			for dy := 0; dy < qrModulePixels; dy++ {
				for dx := 0; dx < qrModulePixels; dx++ {
					img.SetColorIndex(x0+dx, y0+dy, 1)
				}
			}
		}
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// invitationLayout orders the two text blocks that follow the QR image.
type invitationLayout int

const (
	// messageFirst puts the invitation message before the JSON payload.
	messageFirst invitationLayout = iota
	// payloadFirst puts the JSON payload before the invitation message.
	payloadFirst
)

// writeInvitation appends the QR image followed by the invitation message
// and the JSON payload, in the given layout. URLs too long for a QR code get
// a notice in place of the image.
func writeInvitation(w mcpservice.ToolResponseWriter, url string, payload any, layout invitationLayout) error {
	qr, err := invitationQR(url)
	switch {
	case errors.Is(err, ErrQRTooLarge):
		if err := w.AppendText(ErrQRTooLarge.Error()); err != nil {
			return err
		}
	case err != nil:
		return fail(w, err)
	default:
		if err := w.AppendImage(qr, "image/png"); err != nil {
			return err
		}
	}
	message := func() error {
		return w.AppendText("Invitation created successfully.\n\nConnection URL: " + url +
			"\n\nScan this QR code with another agent to establish a connection:")
	}
	if layout == payloadFirst {
		if err := writeJSON(w, payload); err != nil {
			return err
		}
		return message()
	}
	if err := message(); err != nil {
		return err
	}
	return writeJSON(w, payload)
}
