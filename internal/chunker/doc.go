// Package chunker slices the continuous capture stream into bounded,
// independently transcribable audio chunks. The fixed variant cuts on a
// timer; the smart variant consults the voice activity detector to align
// boundaries with silence and avoid mid-word cuts.
package chunker
