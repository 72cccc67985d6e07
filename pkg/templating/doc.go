/*
Package templating renders bestiary entries into display-ready markup.

Layouts are written in a small directive language of {{name|arg|arg}} markers.
Parse turns a layout into a tree of text, directive and block nodes, and the
interpreter walks that tree once per entry, resolving attribute paths (including
"->" jumps across links to other entries), localized resources, images,
arithmetic and nested previews of linked entries.

A Manager owns the process-wide caches: compiled templates keyed by package,
group, file kind and view, and rendered (layout, script, style) triples keyed
by package, group, entry, view and language. Both can be cleared explicitly,
bypassed in live-reload mode, or invalidated per group by Watch. A Coordinator
streams a page of rendered entries and can be cancelled between entries.

Rendering never fails. Missing files, resources and links, malformed
directives and store faults degrade to empty output and are logged.
*/
package templating
