// Package util holds small helpers shared by the raspboot packages.
package util
