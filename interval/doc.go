/*Package interval implements strand-aware target interval-unions for
  adaptive sampling.  (Note the 'union'.  Overlapping intervals on the same
  (contig, strand) are merged, not tracked separately.)
  It assumes every position fits in a PosType, which is currently defined as
  int32 since that's what alignment records are limited to.
*/
package interval
