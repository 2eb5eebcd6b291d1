/*
Package certutil provides small, pure helper functions for working with
PEM-encoded certificates and for computing a store's block-addressing
scheme, shared between pkg/certstore and pkg/unify.
*/
package certutil
