// Package core holds the domain types shared by every pipeline stage
// (sources, pages, journalists, categories), the repository contracts the
// stages are written against, and the small URL/slug helpers that keep
// identities stable.
package core
