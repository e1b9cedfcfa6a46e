// Package domain contains the core entities of the code pool: the items that
// are imported, claimed and purged, and the typed results that pool operations
// return. It is independent of any storage engine or delivery mechanism.
package domain
