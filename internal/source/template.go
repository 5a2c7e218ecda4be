package source

// ManifestTemplate is the starter course tree written by `crelay init`.
const ManifestTemplate = `version: 1
users: []
subjects:
  - name: "Physics"
    chapters:
      - name: "Kinematics"
        content_types:
          - name: "Marathon"
            class: "marathon"
            cards:
              - title: "Motion in one dimension"
                topic: "Displacement and velocity"
                video_page: "https://portal.example.com/watch/kin-1"
                note_page: "https://portal.example.com/notes/kin-1"
          - name: "Archive"
            class: "archive"
            cards: []
resolve: {}
`
