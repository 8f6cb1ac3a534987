package mcpserver

// ImportGuide describes how imports behave so that LLM consumers can pick inputs and
// read results correctly.
const ImportGuide = `# Import Guide

Imports merge a source collection into the server's collection. They run one at a
time; every call returns a job that can be polled with ` + "`" + `import_status` + "`" + `.

## Accepted files

- ` + "`" + `.apkg` + "`" + ` and ` + "`" + `.colpkg` + "`" + ` packages (zip containers holding ` + "`" + `collection.anki21` + "`" + ` or
  ` + "`" + `collection.anki2` + "`" + ` plus numbered media entries and a ` + "`" + `media` + "`" + ` map).
- ` + "`" + `.anki2` + "`" + ` collection files; media is read from the sibling ` + "`" + `<name>.media/` + "`" + ` folder.

## Merge rules

1. Notes are matched by guid. Unknown notes are added.
2. A known note is replaced only when the incoming copy is newer and its note type has
   not changed. Changed note types are listed in the log and left alone.
3. Cards are added once per (note, template). Existing cards keep their scheduling.
4. Review history is copied for added cards and never duplicated.
5. Due dates are shifted so cards stay due on the same calendar day.
6. Media files with the same name and content are shared. A different file with the same
   name is stored as ` + "`" + `<name>_<notetype id>.<ext>` + "`" + ` and references are rewritten.

## Reading results

A finished job carries ` + "`" + `result` + "`" + ` with ` + "`" + `added` + "`" + `, ` + "`" + `updated` + "`" + `, ` + "`" + `unchanged` + "`" + `, ` + "`" + `ignored` + "`" + `,
` + "`" + `cards` + "`" + `, ` + "`" + `revlog` + "`" + `, ` + "`" + `media_copied` + "`" + ` and the human-readable ` + "`" + `log` + "`" + `. A failed job
leaves the collection exactly as it was before the import; an unreadable package logs
"The file is not a valid package."
`
