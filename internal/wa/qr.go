package wa

import (
	"encoding/base64"
	"io"
	"os"

	"github.com/mdp/qrterminal/v3"
	"rsc.io/qr"
)

// QRRenderer renders a pairing payload for human consumption.
type QRRenderer func(payload string)

// TerminalQRRenderer renders pairing payloads as half-block QR codes on w,
// so operators can pair a tenant straight from the server terminal.
func TerminalQRRenderer(w io.Writer) QRRenderer {
	if w == nil {
		w = os.Stdout
	}
	return func(payload string) {
		qrterminal.GenerateHalfBlock(payload, qrterminal.L, w)
	}
}

// DataURLQR renders a pairing payload as a PNG data URL, ready for an
// <img> src on web clients.
func DataURLQR(payload string) (string, error) {
	code, err := qr.Encode(payload, qr.M)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(code.PNG()), nil
}
