// Package repository turns one relational table into a generic CRUD,
// transaction and backup interface. Entities are structs mapped through bun
// struct tags, or Row values when no result type is wanted.
package repository
