package capture

import (
	"errors"
	"fmt"

	iface "CoDetServer/interface"

	"gocv.io/x/gocv"
)

// ToMat copies a frame into a new Mat. The caller closes it.
func ToMat(img iface.ImageData) (gocv.Mat, error) {
	if img.Empty() {
		return gocv.NewMat(), errors.New("empty frame")
	}
	mat, err := gocv.NewMatFromBytes(img.Height, img.Width, matType(img.Channels), img.Data)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("frame to mat: %w", err)
	}
	return mat, nil
}

// FromMat copies a Mat back into a frame.
func FromMat(mat gocv.Mat) iface.ImageData {
	return iface.ImageData{
		Data:     mat.ToBytes(),
		Width:    mat.Cols(),
		Height:   mat.Rows(),
		Channels: mat.Channels(),
	}
}

// EncodeJPEG compresses a BGR frame.
func EncodeJPEG(img iface.ImageData) ([]byte, error) {
	mat, err := ToMat(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()
	return encodeMat(mat)
}

func encodeMat(mat gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}

// EncodeMatJPEG compresses a Mat without copying it into a frame first.
func EncodeMatJPEG(mat gocv.Mat) ([]byte, error) {
	if mat.Empty() {
		return nil, errors.New("empty frame")
	}
	return encodeMat(mat)
}

func matType(channels int) gocv.MatType {
	switch channels {
	case 1:
		return gocv.MatTypeCV8UC1
	case 4:
		return gocv.MatTypeCV8UC4
	default:
		return gocv.MatTypeCV8UC3
	}
}
