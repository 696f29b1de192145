// Package image holds the binary images of the traced program the
// instruction-walk engine single-steps through.
package image

// Image is one immutable, contiguous region of the traced program's address
// space as it appeared at runtime.
type Image struct {
	BaseVA uint64
	Bytes  []byte
}

// EndVA is the address one past the image's last byte: the image covers the
// half-open range [BaseVA, EndVA).
func (img Image) EndVA() uint64 {
	return img.BaseVA + uint64(len(img.Bytes))
}

// Contains reports whether addr falls inside this image's half-open range.
func (img Image) Contains(addr uint64) bool {
	return addr >= img.BaseVA && addr < img.EndVA()
}

// Set is an ordered collection of images. Overlapping regions are resolved
// in favor of whichever was inserted first, matching the source decoder's
// first-match scan.
type Set struct {
	images []Image
}

// NewSet builds an image set from the given images, preserving order.
func NewSet(images ...Image) *Set {
	s := &Set{images: make([]Image, len(images))}
	copy(s.images, images)
	return s
}

// Add appends an image to the set.
func (s *Set) Add(img Image) {
	s.images = append(s.images, img)
}

// Find returns the first image containing addr, and whether one was found.
func (s *Set) Find(addr uint64) (Image, bool) {
	for _, img := range s.images {
		if img.Contains(addr) {
			return img, true
		}
	}
	return Image{}, false
}

// ReadAt reads up to len(dst) bytes starting at addr from whichever image
// contains it and returns how many it copied. It fails only if addr is not
// covered by any image; a read that runs past the end of that image is cut
// short there and does not continue into another image.
func (s *Set) ReadAt(addr uint64, dst []byte) (int, bool) {
	img, ok := s.Find(addr)
	if !ok {
		return 0, false
	}
	off := addr - img.BaseVA
	n := copy(dst, img.Bytes[off:])
	return n, true
}
