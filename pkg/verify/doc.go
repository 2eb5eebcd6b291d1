/*
Package verify holds certificate chain verifiers and an explicit
registry of feature-gated constructors for them.

Rather than the reflective try-import-each-backend pattern of a
dynamic language, each verifier registers itself at program start with
an Available probe; callers look a verifier up by name and skip the
ones whose backing tool isn't installed.
*/
package verify
