// Package ckpe patches a running level editor in memory.
//
// The engine fingerprints the editor's loaded image, looks the build up in
// a relocation database of per-build addresses and activates the patch
// modules that apply to it. Nothing is changed on disk. An unknown build or
// a missing database leaves the editor unpatched.
//
// Everything build specific lives in the database; the patches themselves
// address code through slots of their database item and never hard code an
// address.
package ckpe
