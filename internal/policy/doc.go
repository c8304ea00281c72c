// Package policy decides which backgrounding method applies to an
// application, given its effective preferences and the native background
// modes it declares. Resolution is a pure function of those inputs plus the
// host's reported surface, so repeated calls always agree.
package policy
