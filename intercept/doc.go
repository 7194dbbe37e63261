// Package intercept routes every host-function call through an
// optional hook chain.
//
// A Hook observes one call at four points: Bypass (satisfy the call
// without invoking the host function), Modify (rewrite arguments),
// BeforeCall (final gate), and AfterCall (rewrite results). Each point
// returns Continue, Replace(values), or Trap(kind); a trap verdict
// surfaces in the guest as a runtime trap.
package intercept
